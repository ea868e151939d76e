// Package main (cmd/httpserver) runs the document storage server.
//
// On startup it reads a .env file if present, builds the storage
// configuration from flags and their environment variables, and fills any
// credential still empty from a Vault KV secret when --vault-addr and
// --vault-secret-path are set. When --database-url is set the embedded
// schema migrations are applied and the relational-blob backend is enabled.
//
// Backends whose credentials are missing are registered but unavailable;
// uploads skip them and fall through the priority list towards local
// storage, which is always available.
//
// Example usage:
//
//	docstore-server --listen-addr=0.0.0.0:8080 \
//	    --storage-priority=block-storage,local-fs \
//	    --block-bucket=case-files --upload-dir=/var/lib/docstore
package main
