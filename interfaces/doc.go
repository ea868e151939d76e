// Package interfaces defines the core types and contracts of the document
// storage layer, separating them from the backend implementations.
//
// # Backends
//
// BackendID is a closed set of storage technologies, ordered by default
// write priority:
//
//   - cdn-object: S3-compatible object storage served through a CDN
//   - block-storage: cloud block storage with time-limited signed URLs
//   - local-fs: a flat directory on local disk
//   - relational-blob: a BYTEA column on a database record
//
// BackendAuto (the zero value) means "not specified" and asks the router
// to detect the backend holding a key.
//
// # Adapters
//
// StorageAdapter is the uniform capability set each backend implements:
// Store, Fetch, Exists, Delete, Metadata, URL, Available and Usage.
// DeletionScope tells the router whether Delete removes only the bytes or
// the whole owning record (relational-blob).
//
// # Error Types
//
//   - ErrBackendUnavailable: configuration missing, the router skips the backend
//   - ErrBackendWrite / ErrBackendRead: transient I/O or network failures
//   - ErrObjectNotFound: key absent everywhere probed
//   - ErrStorageExhausted: upload failed on every backend including last-resort local
//   - ErrInvalidKey: empty key or a key escaping the backend namespace
//   - ErrUnknownBackend: unrecognized or unregistered backend tag
package interfaces
