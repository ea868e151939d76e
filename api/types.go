package api

import (
	"github.com/ruteri/legal-docstore/interfaces"
)

// Upload form fields.
const (
	FormFieldFile       = "file"
	FormFieldKey        = "key"
	FormFieldCaseID     = "caseId"
	FormFieldUploadedBy = "uploadedBy"
)

// StorageBackendHeader names the backend that served a document.
const StorageBackendHeader = "X-Storage-Backend"

// UploadResponse is returned by POST /api/documents.
type UploadResponse struct {
	interfaces.StoredObject
	LastResort   bool   `json:"last_resort,omitempty"`
	OriginalName string `json:"original_name"`
}

// DeleteResponse is returned by DELETE /api/documents.
type DeleteResponse struct {
	Key     string                 `json:"key"`
	Removed []interfaces.BackendID `json:"removed"`
}

// URLResponse is returned by GET /api/documents/url.
type URLResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// MigrateRequest is the body of POST /api/documents/migrate.
type MigrateRequest struct {
	Key           string               `json:"key"`
	From          interfaces.BackendID `json:"from"`
	To            interfaces.BackendID `json:"to"`
	CleanupSource bool                 `json:"cleanup_source"`
}

// MigrateResponse is returned by POST /api/documents/migrate.
type MigrateResponse struct {
	Key      string               `json:"key"`
	From     interfaces.BackendID `json:"from"`
	To       interfaces.BackendID `json:"to"`
	Migrated bool                 `json:"migrated"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ReadinessResponse is returned by GET /readyz.
type ReadinessResponse struct {
	Status   string                 `json:"status"`
	Backends []interfaces.BackendID `json:"backends,omitempty"`
}
