package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// snapshotPrefix starts every temporary database copy name.
const snapshotPrefix = "agprobe-state-"

// Sidecar file suffixes of a database in write-ahead log mode.
const (
	walSuffix = "-wal"
	shmSuffix = "-shm"
)

// errKeyNotFound marks an absent ItemTable row.
var errKeyNotFound = errors.New("key not found")

// withSnapshot copies the database at src into tempDir, opens the copy, and
// passes it to fn. The copy is closed and removed on every exit path,
// including a panic inside fn. The live file is never opened, so the running
// application keeps its locks.
func withSnapshot(ctx context.Context, src, tempDir string, fn func(*sql.DB) error) (err error) {
	path, err := snapshotDB(src, tempDir)
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range []string{path, path + walSuffix, path + shmSuffix} {
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("removing snapshot: %w", rmErr))
			}
		}
	}()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}

	return fn(db)
}

// snapshotDB copies src to a uniquely named file in tempDir, together with
// its write-ahead log when one exists. Rows written since the last checkpoint
// live only in the log. The shared-memory index is not copied; SQLite
// rebuilds it from the log on open.
func snapshotDB(src, tempDir string) (string, error) {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	name := snapshotPrefix + uuid.NewString() + "-" + strconv.FormatInt(time.Now().UnixNano(), 10) + ".vscdb"
	path := filepath.Join(tempDir, name)

	if err := copyFile(src, path); err != nil {
		return "", err
	}
	if err := copyFile(src+walSuffix, path+walSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// copyFile copies src to dst, which must not exist yet. dst is removed on failure.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing snapshot: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying database: %w", err)
	}
	return nil
}

// lookupItem reads one value from the ItemTable key-value table.
func lookupItem(ctx context.Context, db *sql.DB, key string) (string, error) {
	var value sql.NullString
	err := db.QueryRowContext(ctx, `SELECT value FROM ItemTable WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying %s: %w", key, err)
	}
	if !value.Valid || value.String == "" {
		return "", errKeyNotFound
	}
	return value.String, nil
}
