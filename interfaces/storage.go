package interfaces

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// BackendID identifies one storage technology. The zero value BackendAuto
// means "not specified" and asks the router to detect the backend.
type BackendID int

const (
	// BackendAuto lets the router detect which backend holds a key.
	BackendAuto BackendID = iota
	// BackendCDN is S3-compatible object storage fronted by a CDN.
	BackendCDN
	// BackendBlock is cloud block storage with signed URLs.
	BackendBlock
	// BackendLocal is a flat directory on local disk.
	BackendLocal
	// BackendDatabase stores bytes in a relational BYTEA column.
	BackendDatabase
)

// DefaultPriority is the write priority used when none is configured.
var DefaultPriority = []BackendID{BackendCDN, BackendBlock, BackendLocal}

// AllBackends lists every concrete backend in canonical order.
var AllBackends = []BackendID{BackendCDN, BackendBlock, BackendLocal, BackendDatabase}

// String returns the backend tag.
func (id BackendID) String() string {
	switch id {
	case BackendAuto:
		return "auto"
	case BackendCDN:
		return "cdn-object"
	case BackendBlock:
		return "block-storage"
	case BackendLocal:
		return "local-fs"
	case BackendDatabase:
		return "relational-blob"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so backend tags appear as strings in JSON.
func (id BackendID) MarshalText() ([]byte, error) {
	if id < BackendAuto || id > BackendDatabase {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBackend, int(id))
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *BackendID) UnmarshalText(text []byte) error {
	parsed, err := ParseBackendID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseBackendID parses a backend tag. The empty string and "auto" yield BackendAuto.
// A few aliases used by older deployments are accepted.
func ParseBackendID(s string) (BackendID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "cdn-object", "cdn", "cloudinary":
		return BackendCDN, nil
	case "block-storage", "block", "s3":
		return BackendBlock, nil
	case "local-fs", "local", "file":
		return BackendLocal, nil
	case "relational-blob", "database", "postgres":
		return BackendDatabase, nil
	default:
		return BackendAuto, fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

// ParsePriority parses a comma separated list of backend tags.
// Duplicates are dropped, "auto" is rejected.
func ParsePriority(s string) ([]BackendID, error) {
	var out []BackendID
	seen := make(map[BackendID]bool)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := ParseBackendID(part)
		if err != nil {
			return nil, err
		}
		if id == BackendAuto {
			return nil, fmt.Errorf("%w: auto is not a priority entry", ErrUnknownBackend)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty priority list", ErrUnknownBackend)
	}
	return out, nil
}

// DeletionScope describes what a backend removes on Delete.
type DeletionScope int

const (
	// DeleteBytesOnly removes only the stored object.
	DeleteBytesOnly DeletionScope = iota
	// DeleteWholeRecord removes the owning record along with the bytes.
	DeleteWholeRecord
)

func (s DeletionScope) String() string {
	if s == DeleteWholeRecord {
		return "whole-record"
	}
	return "bytes-only"
}

// ObjectMetadata describes one stored object as reported by a backend.
type ObjectMetadata struct {
	Key         string            `json:"key"`
	Backend     BackendID         `json:"backend"`
	SizeBytes   int64             `json:"size_bytes"`
	ContentType string            `json:"content_type"`
	CreatedAt   time.Time         `json:"created_at"`
	Custom      map[string]string `json:"metadata,omitempty"`
}

// StoredObject is the descriptor produced by every successful store.
type StoredObject struct {
	Key         string    `json:"key"`
	Backend     BackendID `json:"backend"`
	URL         string    `json:"url"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// URLOptions controls URL generation. A zero Expiry asks for the
// backend's default (a public URL where the backend has one).
type URLOptions struct {
	Expiry time.Duration
}

// BackendUsage is one backend's entry in a usage report.
type BackendUsage struct {
	Backend    BackendID `json:"backend"`
	Available  bool      `json:"available"`
	Plan       string    `json:"plan"`
	Files      int64     `json:"files"`
	Bytes      int64     `json:"bytes"`
	QuotaBytes int64     `json:"quota_bytes,omitempty"`
	// Location is the backend's storage URI, e.g. file:///var/lib/docstore.
	Location string `json:"location,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Well-known metadata keys.
const (
	MetaContentType  = "contentType"
	MetaOriginalName = "originalName"
	MetaUploadedBy   = "uploadedBy"
	MetaCaseID       = "caseId"
	MetaMigratedFrom = "migratedFrom"
	MetaMigratedAt   = "migratedAt"
	MetaResourceType = "resourceType"
	MetaFormat       = "format"
)

var (
	// ErrBackendUnavailable is returned when a backend lacks the configuration it needs.
	// The router treats it as "skip", not as a failure.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrBackendWrite wraps I/O or network failures while storing.
	ErrBackendWrite = errors.New("storage backend write failed")

	// ErrBackendRead wraps I/O or network failures while reading.
	ErrBackendRead = errors.New("storage backend read failed")

	// ErrObjectNotFound is returned when the key is absent from every backend probed.
	ErrObjectNotFound = errors.New("object not found")

	// ErrStorageExhausted is returned when an upload failed on every backend,
	// including the last-resort local write.
	ErrStorageExhausted = errors.New("storage exhausted")

	// ErrInvalidKey is returned for empty keys or keys that would escape a backend's namespace.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrUnknownBackend is returned for unrecognized backend tags or unregistered backends.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// StorageAdapter is the uniform capability set every backend implements.
// Implementations must be safe for concurrent use; their configuration is
// read-only after construction.
type StorageAdapter interface {
	// ID returns the backend identifier.
	ID() BackendID

	// Store saves payload under key and returns a retrieval URL.
	Store(ctx context.Context, payload []byte, key string, metadata map[string]string) (string, error)

	// Fetch returns a stream over the object's bytes. Callers close it.
	Fetch(ctx context.Context, key string) (io.ReadCloser, *ObjectMetadata, error)

	// Exists reports whether key is present. Backend errors count as false.
	Exists(ctx context.Context, key string) bool

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Metadata returns size, type and timestamps for key.
	Metadata(ctx context.Context, key string) (*ObjectMetadata, error)

	// URL produces a retrieval URL for key.
	URL(ctx context.Context, key string, opts URLOptions) (string, error)

	// Available is a pure function of configuration presence, fixed at construction.
	Available() bool

	// DeletionScope reports whether Delete removes bytes only or the owning record.
	DeletionScope() DeletionScope

	// Usage reports object count and byte totals.
	Usage(ctx context.Context) (*BackendUsage, error)
}
