// Package storage persists legal documents across heterogeneous backends.
//
// Four adapters implement interfaces.StorageAdapter:
//
//   - CDNBackend: S3-compatible object storage behind a CDN (minio-go)
//   - BlockBackend: Amazon S3 or compatible block storage with signed URLs (aws-sdk-go)
//   - FileBackend: flat files under a local root directory
//   - DatabaseBackend: a BYTEA column in the stored_documents table (pgx)
//
// # Routing
//
// Router writes to the first available backend in priority order. When
// every prioritized backend fails, local storage receives one last-resort
// write so an upload is never lost while the disk is writable.
//
// Reads, URL generation and metadata lookups take an optional backend. With
// BackendAuto the router runs detection:
//
//  1. CDN, only for keys shaped like CDN public ids (letters, digits, '-' and '_')
//  2. block storage, by HEAD request
//  3. local storage, by stat
//
// Detection is a shortcut, not an authority. On a miss every registered
// backend is probed, the relational one included.
//
// Delete without a backend removes the key from every backend that has it.
// The relational backend deletes the whole row; DeleteOptions.BytesOnly
// leaves it alone.
//
// Migrate copies a document between backends and records migratedFrom and
// migratedAt. The source copy stays unless MigrateOptions.CleanupSource is
// set, and then it is removed only after the destination copy is visible.
//
// # Errors
//
// Adapters return the sentinels from the interfaces package. Routed
// operations that fail everywhere return *AttemptsError, which unwraps to
// ErrStorageExhausted or ErrObjectNotFound and lists every attempt.
//
// # Keys
//
// Keys are slash-separated relative paths. Empty segments, "." and "..",
// backslashes and absolute paths are rejected with ErrInvalidKey. NewKey
// generates collision-resistant keys for uploads.
package storage
