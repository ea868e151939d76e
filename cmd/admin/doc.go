// Package main (cmd/admin) is a command-line client for a running document server.
//
// Commands:
//
//	usage     - Print per-backend usage and totals (default)
//	upload    - Upload a file, optionally under an explicit key
//	download  - Fetch a document by key, optionally from one backend
//	delete    - Delete a document everywhere, or from one backend
//	url       - Print a retrieval URL, signed where the backend supports it
//	info      - Print document metadata
//	migrate   - Copy a document between backends, optionally removing the source
//
// Every command takes --server-addr (DOCSTORE_SERVER_ADDR). Example:
//
//	docstore-admin upload --case-id=C-2041 contract.pdf
//	docstore-admin migrate --key=1767225600000-abcd.pdf --from=local-fs --to=block-storage --cleanup-source
package main
