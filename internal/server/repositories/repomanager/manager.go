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

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Vaults(db dbx.DBTX) vaults.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Audit(db dbx.DBTX) audit.Repository
}
