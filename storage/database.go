package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ruteri/legal-docstore/interfaces"
)

// DBTX is the subset of pgx shared by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	sqlUpsertDocument = `INSERT INTO stored_documents (storage_key, file_name, mime_type, size_bytes, content, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (storage_key) DO UPDATE SET
	file_name = EXCLUDED.file_name,
	mime_type = EXCLUDED.mime_type,
	size_bytes = EXCLUDED.size_bytes,
	content = EXCLUDED.content,
	metadata = EXCLUDED.metadata`

	sqlSelectDocument = `SELECT content, mime_type, size_bytes, metadata, created_at
FROM stored_documents WHERE storage_key = $1 AND content IS NOT NULL`

	sqlSelectDocumentMetadata = `SELECT mime_type, size_bytes, metadata, created_at
FROM stored_documents WHERE storage_key = $1 AND content IS NOT NULL`

	sqlDocumentExists = `SELECT EXISTS (SELECT 1 FROM stored_documents WHERE storage_key = $1 AND content IS NOT NULL)`

	sqlDeleteDocument = `DELETE FROM stored_documents WHERE storage_key = $1`

	sqlDocumentUsage = `SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM stored_documents WHERE content IS NOT NULL`
)

// DatabaseBackend keeps document bytes in a BYTEA column of the
// stored_documents table. Deleting removes the whole row, so the record's
// descriptive fields go with the bytes.
type DatabaseBackend struct {
	db          DBTX
	routePrefix string
	log         *slog.Logger
	now         func() time.Time
}

func NewDatabaseBackend(db DBTX, routePrefix string, log *slog.Logger) *DatabaseBackend {
	if log == nil {
		log = slog.Default()
	}
	return &DatabaseBackend{
		db:          db,
		routePrefix: routePrefix,
		log:         log,
		now:         time.Now,
	}
}

func (b *DatabaseBackend) ID() interfaces.BackendID { return interfaces.BackendDatabase }

func (b *DatabaseBackend) Available() bool { return b.db != nil }

func (b *DatabaseBackend) DeletionScope() interfaces.DeletionScope {
	return interfaces.DeleteWholeRecord
}

// Store upserts the document row and returns the application route for it.
func (b *DatabaseBackend) Store(ctx context.Context, payload []byte, key string, metadata map[string]string) (string, error) {
	if !b.Available() {
		return "", interfaces.ErrBackendUnavailable
	}
	if err := validateKey(key); err != nil {
		return "", err
	}

	fileName := metadata[interfaces.MetaOriginalName]
	if fileName == "" {
		fileName = path.Base(key)
	}
	custom := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if k != interfaces.MetaContentType {
			custom[k] = v
		}
	}
	metaJSON, err := json.Marshal(custom)
	if err != nil {
		return "", fmt.Errorf("%w: failed to encode metadata: %v", interfaces.ErrBackendWrite, err)
	}

	_, err = b.db.Exec(ctx, sqlUpsertDocument,
		key, fileName, contentTypeFor(key, metadata), int64(len(payload)), payload, metaJSON, b.now().UTC())
	if err != nil {
		b.log.Error("Failed to store document row", slog.String("key", key), "err", err)
		return "", fmt.Errorf("%w: %v", interfaces.ErrBackendWrite, err)
	}

	b.log.Debug("Stored content in database",
		slog.String("key", key),
		slog.Int("size", len(payload)))

	return routeURL(b.routePrefix, key), nil
}

func (b *DatabaseBackend) Fetch(ctx context.Context, key string) (io.ReadCloser, *interfaces.ObjectMetadata, error) {
	if !b.Available() {
		return nil, nil, interfaces.ErrBackendUnavailable
	}

	var (
		content  []byte
		meta     interfaces.ObjectMetadata
		metaJSON []byte
	)
	err := b.db.QueryRow(ctx, sqlSelectDocument, key).
		Scan(&content, &meta.ContentType, &meta.SizeBytes, &metaJSON, &meta.CreatedAt)
	if err != nil {
		return nil, nil, b.readError(key, err)
	}

	meta.Key = key
	meta.Backend = interfaces.BackendDatabase
	meta.Custom = decodeCustomMetadata(metaJSON)
	return io.NopCloser(bytes.NewReader(content)), &meta, nil
}

func (b *DatabaseBackend) Exists(ctx context.Context, key string) bool {
	if !b.Available() {
		return false
	}
	var exists bool
	if err := b.db.QueryRow(ctx, sqlDocumentExists, key).Scan(&exists); err != nil {
		return false
	}
	return exists
}

// Delete removes the row. Deleting a missing row is not an error.
func (b *DatabaseBackend) Delete(ctx context.Context, key string) error {
	if !b.Available() {
		return interfaces.ErrBackendUnavailable
	}
	tag, err := b.db.Exec(ctx, sqlDeleteDocument, key)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendWrite, err)
	}
	b.log.Debug("Deleted document row",
		slog.String("key", key),
		slog.Int64("rows", tag.RowsAffected()))
	return nil
}

func (b *DatabaseBackend) Metadata(ctx context.Context, key string) (*interfaces.ObjectMetadata, error) {
	if !b.Available() {
		return nil, interfaces.ErrBackendUnavailable
	}

	var (
		meta     interfaces.ObjectMetadata
		metaJSON []byte
	)
	err := b.db.QueryRow(ctx, sqlSelectDocumentMetadata, key).
		Scan(&meta.ContentType, &meta.SizeBytes, &metaJSON, &meta.CreatedAt)
	if err != nil {
		return nil, b.readError(key, err)
	}
	meta.Key = key
	meta.Backend = interfaces.BackendDatabase
	meta.Custom = decodeCustomMetadata(metaJSON)
	return &meta, nil
}

// URL returns the application route; rows have no public URL.
func (b *DatabaseBackend) URL(ctx context.Context, key string, opts interfaces.URLOptions) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return routeURL(b.routePrefix, key), nil
}

func (b *DatabaseBackend) Usage(ctx context.Context) (*interfaces.BackendUsage, error) {
	if !b.Available() {
		return nil, interfaces.ErrBackendUnavailable
	}
	usage := &interfaces.BackendUsage{
		Backend:   interfaces.BackendDatabase,
		Available: true,
		Plan:      "database",
	}
	if err := b.db.QueryRow(ctx, sqlDocumentUsage).Scan(&usage.Files, &usage.Bytes); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendRead, err)
	}
	return usage, nil
}

func (b *DatabaseBackend) readError(key string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return interfaces.ErrObjectNotFound
	}
	b.log.Error("Failed to read document row", slog.String("key", key), "err", err)
	return fmt.Errorf("%w: %v", interfaces.ErrBackendRead, err)
}

func decodeCustomMetadata(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
