package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/legal-docstore/api"
	"github.com/ruteri/legal-docstore/interfaces"
	"github.com/ruteri/legal-docstore/storage"
)

const (
	// multipartOverhead is the allowance for form fields and boundaries on top of MaxFileSize.
	multipartOverhead = 1 << 20

	// maxJSONBodySize bounds JSON request bodies.
	maxJSONBodySize = 64 * 1024

	// maxURLExpiry caps the expiry a client may request for a signed URL.
	maxURLExpiry = 7 * 24 * time.Hour
)

// AllowedUploadTypes are the document MIME types accepted for upload.
var AllowedUploadTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.ms-powerpoint":                                             true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"text/plain": true,
	"text/csv":   true,
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// DocumentStore is the subset of *storage.Router the handler depends on.
type DocumentStore interface {
	Upload(ctx context.Context, payload []byte, key string, metadata map[string]string) (*storage.UploadResult, error)
	Download(ctx context.Context, key string, backend interfaces.BackendID) (io.ReadCloser, *interfaces.ObjectMetadata, error)
	Delete(ctx context.Context, key string, opts storage.DeleteOptions) (*storage.DeleteReport, error)
	GenerateURL(ctx context.Context, key string, backend interfaces.BackendID, opts interfaces.URLOptions) string
	FileInfo(ctx context.Context, key string, backend interfaces.BackendID) (*interfaces.ObjectMetadata, error)
	Migrate(ctx context.Context, key string, from, to interfaces.BackendID, opts storage.MigrateOptions) (bool, error)
	UsageReport(ctx context.Context) *storage.UsageReport
	AvailableBackends() []interfaces.BackendID
}

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error { return e.Err }

func badRequest(format string, args ...any) *RequestError {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf(format, args...)}
}

// Handler serves the document API on top of a DocumentStore.
type Handler struct {
	store       DocumentStore
	maxFileSize int64
	log         *slog.Logger
	now         func() time.Time
}

// NewHandler creates a document handler. maxFileSize limits upload payloads.
func NewHandler(store DocumentStore, maxFileSize int64, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		store:       store,
		maxFileSize: maxFileSize,
		log:         log,
		now:         time.Now,
	}
}

// HandleUpload accepts a multipart form with a "file" part and optional
// "key", "caseId" and "uploadedBy" fields, and stores the file through the
// router.
//
// URL format: POST /api/documents
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: errors.New("file too large")})
			return
		}
		h.writeError(w, badRequest("invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(api.FormFieldFile)
	if err != nil {
		h.writeError(w, badRequest("missing file"))
		return
	}
	defer file.Close()

	if header.Size > h.maxFileSize {
		h.writeError(w, &RequestError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Err:        fmt.Errorf("file exceeds maximum size of %d bytes", h.maxFileSize),
		})
		return
	}

	contentType := uploadContentType(header.Header.Get("Content-Type"), header.Filename)
	if !AllowedUploadTypes[contentType] {
		h.writeError(w, &RequestError{
			StatusCode: http.StatusUnsupportedMediaType,
			Err:        fmt.Errorf("file type %q is not allowed", contentType),
		})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		h.log.Error("Failed to read uploaded file", "err", err)
		h.writeError(w, badRequest("failed to read file"))
		return
	}
	if int64(len(payload)) > h.maxFileSize {
		h.writeError(w, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: errors.New("file too large")})
		return
	}

	originalName := path.Base(header.Filename)
	caseID := r.FormValue(api.FormFieldCaseID)
	key := r.FormValue(api.FormFieldKey)
	if key == "" {
		key = storage.NewKey(originalName, caseID, h.now())
	}

	metadata := map[string]string{
		interfaces.MetaContentType:  contentType,
		interfaces.MetaOriginalName: originalName,
	}
	if v := r.FormValue(api.FormFieldUploadedBy); v != "" {
		metadata[interfaces.MetaUploadedBy] = v
	}
	if caseID != "" {
		metadata[interfaces.MetaCaseID] = caseID
	}

	res, err := h.store.Upload(r.Context(), payload, key, metadata)
	if err != nil {
		h.log.Error("Failed to upload document",
			slog.String("key", key),
			slog.Int("size", len(payload)),
			"err", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, api.UploadResponse{
		StoredObject: res.StoredObject,
		LastResort:   res.LastResort,
		OriginalName: originalName,
	})
}

// HandleServeFile streams a document. This is the application route that
// URL generation falls back to.
//
// URL format: GET /files/{key...}?backend=<tag>
func (h *Handler) HandleServeFile(w http.ResponseWriter, r *http.Request) {
	key, err := wildcardKey(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	backend, err := backendParam(r, "backend")
	if err != nil {
		h.writeError(w, err)
		return
	}

	body, meta, err := h.store.Download(r.Context(), key, backend)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer body.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = storage.MimeTypeFor(key)
	}
	w.Header().Set("Content-Type", contentType)
	if meta.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.SizeBytes, 10))
	}
	filename := meta.Custom[interfaces.MetaOriginalName]
	if filename == "" || filename == "unknown" {
		filename = path.Base(key)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": filename}))
	w.Header().Set(api.StorageBackendHeader, meta.Backend.String())
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.log.Warn("Failed to stream document",
			slog.String("key", key),
			slog.String("backend", meta.Backend.String()),
			"err", err)
	}
}

// HandleDelete removes a document from one backend or, by default, from every backend holding it.
//
// URL format: DELETE /api/documents?key=<key>&backend=<tag>&bytesOnly=<bool>
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := queryKey(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	backend, err := backendParam(r, "backend")
	if err != nil {
		h.writeError(w, err)
		return
	}
	bytesOnly, err := boolParam(r, "bytesOnly")
	if err != nil {
		h.writeError(w, err)
		return
	}

	report, err := h.store.Delete(r.Context(), key, storage.DeleteOptions{Backend: backend, BytesOnly: bytesOnly})
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := api.DeleteResponse{Key: report.Key, Removed: report.Removed}
	if resp.Removed == nil {
		resp.Removed = []interfaces.BackendID{}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleURL returns a retrieval URL. It answers 200 even when the backend
// could not produce one; the URL is then the application route.
//
// URL format: GET /api/documents/url?key=<key>&backend=<tag>&expiry=<seconds>
func (h *Handler) HandleURL(w http.ResponseWriter, r *http.Request) {
	key, err := queryKey(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	backend, err := backendParam(r, "backend")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var opts interfaces.URLOptions
	if s := r.URL.Query().Get("expiry"); s != "" {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil || secs <= 0 {
			h.writeError(w, badRequest("invalid expiry %q", s))
			return
		}
		opts.Expiry = time.Duration(secs) * time.Second
		if opts.Expiry > maxURLExpiry {
			opts.Expiry = maxURLExpiry
		}
	}

	h.writeJSON(w, http.StatusOK, api.URLResponse{Key: key, URL: h.store.GenerateURL(r.Context(), key, backend, opts)})
}

// HandleInfo returns the metadata of a stored document.
//
// URL format: GET /api/documents/info?key=<key>&backend=<tag>
func (h *Handler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	key, err := queryKey(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	backend, err := backendParam(r, "backend")
	if err != nil {
		h.writeError(w, err)
		return
	}

	meta, err := h.store.FileInfo(r.Context(), key, backend)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, meta)
}

// HandleMigrate copies a document between backends.
//
// URL format: POST /api/documents/migrate
// Request body: {"key": "...", "from": "local-fs", "to": "block-storage", "cleanup_source": false}
func (h *Handler) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	var req api.MigrateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize)).Decode(&req); err != nil {
		h.writeError(w, badRequest("invalid request body: %v", err))
		return
	}
	if req.Key == "" {
		h.writeError(w, badRequest("missing key"))
		return
	}

	ok, err := h.store.Migrate(r.Context(), req.Key, req.From, req.To, storage.MigrateOptions{CleanupSource: req.CleanupSource})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.MigrateResponse{Key: req.Key, From: req.From, To: req.To, Migrated: ok})
}

// HandleUsage returns the aggregated usage report.
//
// URL format: GET /api/admin/usage
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.UsageReport(r.Context()))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// writeError maps storage errors to status codes. Backend detail is logged,
// never returned to the client.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, msg := http.StatusInternalServerError, "internal storage error"

	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		status, msg = reqErr.StatusCode, reqErr.Err.Error()
	case errors.Is(err, interfaces.ErrObjectNotFound):
		status, msg = http.StatusNotFound, "document not found"
	case errors.Is(err, interfaces.ErrInvalidKey):
		status, msg = http.StatusBadRequest, "invalid document key"
	case errors.Is(err, interfaces.ErrUnknownBackend):
		status, msg = http.StatusBadRequest, "unknown storage backend"
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		status, msg = http.StatusServiceUnavailable, "storage backend unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "status", status, "err", err)
	}
	h.writeJSON(w, status, api.ErrorResponse{Error: msg})
}

// uploadContentType trusts the part's declared type unless it is missing
// or generic, in which case the filename decides.
func uploadContentType(declared, filename string) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != storage.DefaultContentType {
			return mt
		}
	}
	return storage.MimeTypeFor(filename)
}

func wildcardKey(r *http.Request) (string, error) {
	key := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(key)
		if err != nil {
			return "", badRequest("invalid key encoding")
		}
		key = unescaped
	}
	if key == "" {
		return "", badRequest("missing key")
	}
	return key, nil
}

func queryKey(r *http.Request) (string, error) {
	key := r.URL.Query().Get("key")
	if key == "" {
		return "", badRequest("missing key")
	}
	return key, nil
}

func backendParam(r *http.Request, name string) (interfaces.BackendID, error) {
	id, err := interfaces.ParseBackendID(r.URL.Query().Get(name))
	if err != nil {
		return interfaces.BackendAuto, err
	}
	return id, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, badRequest("invalid %s %q", name, s)
	}
	return v, nil
}
