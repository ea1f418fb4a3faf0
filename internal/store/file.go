package store

import (
	"database/sql"
	"errors"
	"time"
)

// SaveFile records a hosted attachment body.
func (db *DB) SaveFile(f *File) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(`
		INSERT INTO files (id, path, content_type, filename, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.Path, f.ContentType, f.Filename, f.Size, millis(f.CreatedAt))
	return err
}

// GetFile returns a hosted file by id.
func (db *DB) GetFile(id string) (*File, error) {
	var f File
	var created int64
	err := db.QueryRow(`
		SELECT id, path, content_type, filename, size, created_at
		FROM files WHERE id = ?`, id).
		Scan(&f.ID, &f.Path, &f.ContentType, &f.Filename, &f.Size, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.CreatedAt = fromMillis(created)
	return &f, nil
}
