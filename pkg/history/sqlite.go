package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Upload is one completed instant upload
type Upload struct {
	ID         int64
	Path       string
	Filename   string
	SHA1       string
	Size       int64
	Backend    string
	TargetPID  int64
	UploadedAt time.Time
}

// Recorder is what the dispatcher needs from the ledger
type Recorder interface {
	Record(ctx context.Context, upload *Upload) error
}

// SQLiteStore keeps the upload ledger in SQLite
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at dbPath
func Open(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		filename TEXT NOT NULL,
		sha1 TEXT NOT NULL,
		size INTEGER NOT NULL,
		backend TEXT NOT NULL,
		target_pid INTEGER NOT NULL,
		uploaded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_sha1 ON uploads(sha1);
	CREATE INDEX IF NOT EXISTS idx_uploads_uploaded_at ON uploads(uploaded_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record appends an upload to the ledger
func (s *SQLiteStore) Record(ctx context.Context, upload *Upload) error {
	if upload.UploadedAt.IsZero() {
		upload.UploadedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (path, filename, sha1, size, backend, target_pid, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		upload.Path,
		upload.Filename,
		upload.SHA1,
		upload.Size,
		upload.Backend,
		upload.TargetPID,
		upload.UploadedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		upload.ID = id
	}
	return nil
}

const selectColumns = `SELECT id, path, filename, sha1, size, backend, target_pid, uploaded_at FROM uploads`

// Recent returns up to limit uploads, newest first
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*Upload, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY uploaded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent uploads: %w", err)
	}
	defer rows.Close()

	return scanUploads(rows)
}

// FindBySHA1 returns the newest upload with the given hash, or nil
func (s *SQLiteStore) FindBySHA1(ctx context.Context, sum string) (*Upload, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE sha1 = ? ORDER BY uploaded_at DESC, id DESC LIMIT 1`, sum)

	upload, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query by sha1: %w", err)
	}
	return upload, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DefaultPath returns the ledger location used when none is configured
func DefaultPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "ptto115", "history.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(home, ".local", "share", "ptto115", "history.db")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUpload(row scanner) (*Upload, error) {
	var upload Upload
	var uploadedAt int64

	err := row.Scan(
		&upload.ID,
		&upload.Path,
		&upload.Filename,
		&upload.SHA1,
		&upload.Size,
		&upload.Backend,
		&upload.TargetPID,
		&uploadedAt,
	)
	if err != nil {
		return nil, err
	}

	upload.UploadedAt = time.Unix(uploadedAt, 0)
	return &upload, nil
}

func scanUploads(rows *sql.Rows) ([]*Upload, error) {
	var uploads []*Upload
	for rows.Next() {
		upload, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		uploads = append(uploads, upload)
	}
	return uploads, rows.Err()
}
