package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruteri/legal-docstore/interfaces"
)

const tempFilePrefix = ".tmp-"

// FileBackend implements a storage backend using the local file system.
// Objects are flat files under one root directory, keyed by the logical key.
type FileBackend struct {
	baseDir     string
	routePrefix string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file storage backend rooted at baseDir.
// The directory is created eagerly when possible; Store repeats the
// bootstrap, so a failure here only logs.
func NewFileBackend(baseDir, routePrefix string, log *slog.Logger) (*FileBackend, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: empty base directory", interfaces.ErrBackendUnavailable)
	}
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		log.Warn("Failed to create base directory", slog.String("path", baseDir), "err", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		routePrefix: routePrefix,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

func (b *FileBackend) ID() interfaces.BackendID { return interfaces.BackendLocal }

// Available is true whenever a root directory is configured.
func (b *FileBackend) Available() bool { return b.baseDir != "" }

func (b *FileBackend) DeletionScope() interfaces.DeletionScope { return interfaces.DeleteBytesOnly }

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string { return b.locationURI }

// Store writes payload to <baseDir>/<key> through a temporary file and rename,
// so readers never observe a partially written object.
func (b *FileBackend) Store(ctx context.Context, payload []byte, key string, metadata map[string]string) (string, error) {
	filePath, err := b.getFilePath(key)
	if err != nil {
		return "", err
	}

	// Create parent directory (and the root itself) if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create directory: %v", interfaces.ErrBackendWrite, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), tempFilePrefix+"*")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temp file: %v", interfaces.ErrBackendWrite, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: failed to write file: %v", interfaces.ErrBackendWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: failed to close file: %v", interfaces.ErrBackendWrite, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return "", fmt.Errorf("%w: failed to chmod file: %v", interfaces.ErrBackendWrite, err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		return "", fmt.Errorf("%w: failed to rename file: %v", interfaces.ErrBackendWrite, err)
	}

	b.log.Debug("Stored content in file",
		slog.String("path", filePath),
		slog.Int("size", len(payload)))

	return routeURL(b.routePrefix, key), nil
}

// Fetch opens the file for key. Returns ErrObjectNotFound if it doesn't exist.
func (b *FileBackend) Fetch(ctx context.Context, key string) (io.ReadCloser, *interfaces.ObjectMetadata, error) {
	filePath, err := b.getFilePath(key)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, interfaces.ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("%w: failed to open file: %v", interfaces.ErrBackendRead, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: failed to stat file: %v", interfaces.ErrBackendRead, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, interfaces.ErrObjectNotFound
	}

	b.log.Debug("Fetched content from file",
		slog.String("path", filePath),
		slog.Int64("size", info.Size()))

	return f, b.metadataFromInfo(key, info), nil
}

// Exists checks the direct path; any error counts as absent.
func (b *FileBackend) Exists(ctx context.Context, key string) bool {
	filePath, err := b.getFilePath(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(filePath)
	return err == nil && info.Mode().IsRegular()
}

// Delete removes the file for key. A missing file is not an error.
func (b *FileBackend) Delete(ctx context.Context, key string) error {
	filePath, err := b.getFilePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove file: %v", interfaces.ErrBackendWrite, err)
	}
	b.log.Debug("Deleted file", slog.String("path", filePath))
	return nil
}

// Metadata stats the file. The content type comes from the key's extension.
func (b *FileBackend) Metadata(ctx context.Context, key string) (*interfaces.ObjectMetadata, error) {
	filePath, err := b.getFilePath(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, interfaces.ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: failed to stat file: %v", interfaces.ErrBackendRead, err)
	}
	if !info.Mode().IsRegular() {
		return nil, interfaces.ErrObjectNotFound
	}
	return b.metadataFromInfo(key, info), nil
}

// URL returns the application route; local files have no public URL.
func (b *FileBackend) URL(ctx context.Context, key string, opts interfaces.URLOptions) (string, error) {
	if _, err := b.getFilePath(key); err != nil {
		return "", err
	}
	return routeURL(b.routePrefix, key), nil
}

// Usage walks the root directory, counting regular files and their sizes.
func (b *FileBackend) Usage(ctx context.Context) (*interfaces.BackendUsage, error) {
	start := time.Now()
	usage := &interfaces.BackendUsage{
		Backend:   interfaces.BackendLocal,
		Available: b.Available(),
		Plan:      "always available",
	}

	err := filepath.WalkDir(b.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == b.baseDir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempFilePrefix) || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		usage.Files++
		usage.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan %s: %v", interfaces.ErrBackendRead, b.baseDir, err)
	}

	b.log.Debug("Scanned local storage",
		slog.Int64("files", usage.Files),
		slog.Int64("bytes", usage.Bytes),
		slog.Duration("duration", time.Since(start)))

	return usage, nil
}

func (b *FileBackend) metadataFromInfo(key string, info fs.FileInfo) *interfaces.ObjectMetadata {
	return &interfaces.ObjectMetadata{
		Key:         key,
		Backend:     interfaces.BackendLocal,
		SizeBytes:   info.Size(),
		ContentType: MimeTypeFor(key),
		CreatedAt:   info.ModTime(),
	}
}

// getFilePath resolves key under baseDir, rejecting traversal.
func (b *FileBackend) getFilePath(key string) (string, error) {
	if err := validatePathKey(key); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(b.baseDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	absPath := filepath.Join(absBase, filepath.FromSlash(key))
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key escapes storage root", interfaces.ErrInvalidKey)
	}
	if strings.HasPrefix(filepath.Base(absPath), tempFilePrefix) {
		return "", fmt.Errorf("%w: reserved name", interfaces.ErrInvalidKey)
	}
	return absPath, nil
}
