/*
Package api holds the wire types shared by the document server and its
clients, plus the HTTP server configuration.

The clients subpackage implements a Go client for the document API; the
admin CLI uses it to upload, fetch, delete, migrate and report on stored
documents through a running server.
*/
package api
