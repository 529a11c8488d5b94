package merge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okulov/vaultsync/internal/client/vaultdb"
	"github.com/okulov/vaultsync/internal/common"
)

func openDB(t *testing.T, epoch string) *vaultdb.DB {
	t.Helper()
	db, err := vaultdb.Open(context.Background(), filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.SetMeta(context.Background(), vaultdb.MetaEpoch, []byte(epoch)))
	return db
}

func snapshotToFile(t *testing.T, db *vaultdb.DB) string {
	t.Helper()
	blob, err := db.Snapshot(context.Background())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "snap.db")
	require.NoError(t, vaultdb.WriteSnapshot(path, blob))
	return path
}

func putNote(t *testing.T, db *vaultdb.DB, id, body string, updatedAt int64, deleted bool) {
	t.Helper()
	ctx := context.Background()
	isDeleted := 0
	if deleted {
		isDeleted = 1
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO notes (id, title, body, updated_at, is_deleted)
		VALUES (?, '', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body,
			updated_at = excluded.updated_at, is_deleted = excluded.is_deleted`,
		id, body, updatedAt, isDeleted)
	require.NoError(t, err)
}

type noteRow struct {
	ID        string
	Body      string
	UpdatedAt int64
	IsDeleted int
}

func allNotes(t *testing.T, db *vaultdb.DB) []noteRow {
	t.Helper()
	rows, err := db.QueryContext(context.Background(),
		`SELECT id, body, updated_at, is_deleted FROM notes ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var out []noteRow
	for rows.Next() {
		var r noteRow
		require.NoError(t, rows.Scan(&r.ID, &r.Body, &r.UpdatedAt, &r.IsDeleted))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestNewerRowWins(t *testing.T) {
	ctx := context.Background()
	dst := openDB(t, "e1")
	src := openDB(t, "e1")

	putNote(t, dst, "a", "old", 100, false)
	putNote(t, src, "a", "new", 200, false)
	putNote(t, src, "b", "only-in-src", 150, false)

	require.NoError(t, Into(ctx, dst, snapshotToFile(t, src)))

	notes := allNotes(t, dst)
	require.Len(t, notes, 2)
	assert.Equal(t, "new", notes[0].Body)
	assert.Equal(t, "only-in-src", notes[1].Body)
}

func TestOlderRowDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	dst := openDB(t, "e1")
	src := openDB(t, "e1")

	putNote(t, dst, "a", "current", 300, false)
	putNote(t, src, "a", "stale", 200, false)

	require.NoError(t, Into(ctx, dst, snapshotToFile(t, src)))
	assert.Equal(t, "current", allNotes(t, dst)[0].Body)
}

func TestEqualTimestampKeepsLocal(t *testing.T) {
	ctx := context.Background()
	dst := openDB(t, "e1")
	src := openDB(t, "e1")

	putNote(t, dst, "a", "local", 100, false)
	putNote(t, src, "a", "remote", 100, false)

	require.NoError(t, Into(ctx, dst, snapshotToFile(t, src)))
	assert.Equal(t, "local", allNotes(t, dst)[0].Body)
}

func TestMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dst := openDB(t, "e1")
	src := openDB(t, "e1")

	putNote(t, dst, "a", "old", 100, false)
	putNote(t, src, "a", "new", 200, false)
	snap := snapshotToFile(t, src)

	require.NoError(t, Into(ctx, dst, snap))
	first := allNotes(t, dst)

	require.NoError(t, Into(ctx, dst, snap))
	assert.Equal(t, first, allNotes(t, dst))
}

func TestMergeIsCommutative(t *testing.T) {
	ctx := context.Background()

	seed := func(db *vaultdb.DB) {
		putNote(t, db, "x", "base", 50, false)
	}

	a := openDB(t, "e1")
	b := openDB(t, "e1")
	seed(a)
	seed(b)
	putNote(t, a, "x", "from-a", 200, false)
	putNote(t, a, "only-a", "a", 120, false)
	putNote(t, b, "x", "from-b", 150, false)
	putNote(t, b, "only-b", "b", 130, false)

	snapA := snapshotToFile(t, a)
	snapB := snapshotToFile(t, b)

	left := openDB(t, "e1")
	require.NoError(t, Fold(ctx, left, snapA, snapB))

	right := openDB(t, "e1")
	require.NoError(t, Fold(ctx, right, snapB, snapA))

	merged := allNotes(t, left)
	assert.Equal(t, merged, allNotes(t, right))
	// ids sort "only-a", "only-b", "x"; the contested row took the newer write
	assert.Equal(t, "from-a", merged[2].Body)
}

func TestNewerTombstoneDeletes(t *testing.T) {
	ctx := context.Background()
	dst := openDB(t, "e1")
	src := openDB(t, "e1")

	putNote(t, dst, "a", "alive", 100, false)
	putNote(t, src, "a", "alive", 200, true)

	require.NoError(t, Into(ctx, dst, snapshotToFile(t, src)))
	assert.Equal(t, 1, allNotes(t, dst)[0].IsDeleted)
}

func TestNewerWriteRevivesTombstone(t *testing.T) {
	ctx := context.Background()
	dst := openDB(t, "e1")
	src := openDB(t, "e1")

	putNote(t, dst, "a", "gone", 200, true)
	putNote(t, src, "a", "back", 300, false)

	require.NoError(t, Into(ctx, dst, snapshotToFile(t, src)))
	row := allNotes(t, dst)[0]
	assert.Equal(t, 0, row.IsDeleted)
	assert.Equal(t, "back", row.Body)
}

func TestOlderTombstoneLoses(t *testing.T) {
	ctx := context.Background()
	dst := openDB(t, "e1")
	src := openDB(t, "e1")

	putNote(t, dst, "a", "rewritten", 300, false)
	putNote(t, src, "a", "x", 200, true)

	require.NoError(t, Into(ctx, dst, snapshotToFile(t, src)))
	row := allNotes(t, dst)[0]
	assert.Equal(t, 0, row.IsDeleted)
	assert.Equal(t, "rewritten", row.Body)
}

func TestEpochMismatchTouchesNothing(t *testing.T) {
	ctx := context.Background()
	dst := openDB(t, "epoch-1")
	src := openDB(t, "epoch-2")

	putNote(t, dst, "a", "mine", 100, false)
	putNote(t, src, "a", "theirs", 999, false)

	err := Into(ctx, dst, snapshotToFile(t, src))
	require.ErrorIs(t, err, common.ErrMergeEpochMismatch)

	assert.Equal(t, "mine", allNotes(t, dst)[0].Body)
}

func TestUnknownTableSkipped(t *testing.T) {
	ctx := context.Background()
	dst := openDB(t, "e1")
	src := openDB(t, "e1")

	// a table this client version does not know about
	_, err := src.ExecContext(ctx, `CREATE TABLE future_things (id TEXT PRIMARY KEY, stuff TEXT, updated_at INTEGER, is_deleted INTEGER)`)
	require.NoError(t, err)
	_, err = src.ExecContext(ctx, `INSERT INTO future_things VALUES ('1', 's', 1, 0)`)
	require.NoError(t, err)
	putNote(t, src, "a", "note", 100, false)

	require.NoError(t, Into(ctx, dst, snapshotToFile(t, src)))

	require.Len(t, allNotes(t, dst), 1)
	var n int
	err = dst.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE name = 'future_things'`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTableWithoutMergeColumnsSkipped(t *testing.T) {
	ctx := context.Background()
	dst := openDB(t, "e1")
	src := openDB(t, "e1")

	for _, db := range []*vaultdb.DB{dst, src} {
		_, err := db.ExecContext(ctx, `CREATE TABLE plain (id TEXT PRIMARY KEY, v TEXT)`)
		require.NoError(t, err)
	}
	_, err := dst.ExecContext(ctx, `INSERT INTO plain VALUES ('1', 'local')`)
	require.NoError(t, err)
	_, err = src.ExecContext(ctx, `INSERT INTO plain VALUES ('1', 'remote')`)
	require.NoError(t, err)

	require.NoError(t, Into(ctx, dst, snapshotToFile(t, src)))

	var v string
	require.NoError(t, dst.QueryRowContext(ctx, `SELECT v FROM plain WHERE id = '1'`).Scan(&v))
	assert.Equal(t, "local", v)
}

func TestTableWithoutTimestampOverwrites(t *testing.T) {
	ctx := context.Background()
	dst := openDB(t, "e1")
	src := openDB(t, "e1")

	for _, db := range []*vaultdb.DB{dst, src} {
		_, err := db.ExecContext(ctx, `CREATE TABLE flags (id TEXT PRIMARY KEY, v TEXT, is_deleted INTEGER DEFAULT 0)`)
		require.NoError(t, err)
	}
	_, err := dst.ExecContext(ctx, `INSERT INTO flags VALUES ('1', 'local', 0)`)
	require.NoError(t, err)
	_, err = src.ExecContext(ctx, `INSERT INTO flags VALUES ('1', 'remote', 0)`)
	require.NoError(t, err)

	require.NoError(t, Into(ctx, dst, snapshotToFile(t, src)))

	var v string
	require.NoError(t, dst.QueryRowContext(ctx, `SELECT v FROM flags WHERE id = '1'`).Scan(&v))
	assert.Equal(t, "remote", v)
}
