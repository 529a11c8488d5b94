package repomanager

import (
	"context"
	"database/sql"

	"github.com/okulov/vaultsync/internal/dbx"
	"github.com/okulov/vaultsync/internal/server/repositories/audit"
	"github.com/okulov/vaultsync/internal/server/repositories/refreshtokens"
	"github.com/okulov/vaultsync/internal/server/repositories/users"
	"github.com/okulov/vaultsync/internal/server/repositories/vaults"
)

// InMemoryRepositoryManager vends the in-memory repositories. Unlike the
// Postgres manager it ignores the DBTX argument; the same repository
// instances are returned for every call, so state persists across
// "transactions" in tests.
type InMemoryRepositoryManager struct {
	users         *users.InMemoryRepository
	vaults        *vaults.InMemoryRepository
	refreshTokens *refreshtokens.InMemoryRepository
	audit         *audit.InMemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		users:         users.NewInMemoryRepository(),
		vaults:        vaults.NewInMemoryRepository(),
		refreshTokens: refreshtokens.NewInMemoryRepository(),
		audit:         audit.NewInMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return m.users
}

func (m *InMemoryRepositoryManager) Vaults(db dbx.DBTX) vaults.Repository {
	return m.vaults
}

func (m *InMemoryRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return m.refreshTokens
}

func (m *InMemoryRepositoryManager) Audit(db dbx.DBTX) audit.Repository {
	return m.audit
}

func (m *InMemoryRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return nil
}
