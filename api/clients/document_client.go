package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/legal-docstore/api"
	"github.com/ruteri/legal-docstore/interfaces"
	"github.com/ruteri/legal-docstore/storage"
)

// DocumentClient talks to the document storage HTTP API.
type DocumentClient struct {
	// ServerAddr is the base URL of the document server, e.g. http://127.0.0.1:8080
	ServerAddr string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// NewDocumentClient creates a client for the server at baseURL.
func NewDocumentClient(baseURL string, httpClient *http.Client) *DocumentClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &DocumentClient{
		ServerAddr: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: httpClient,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Is maps response codes back to the storage sentinels so callers can use errors.Is.
func (e *StatusError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == interfaces.ErrObjectNotFound
	case http.StatusServiceUnavailable:
		return target == interfaces.ErrBackendUnavailable
	}
	return false
}

// UploadOptions are the optional upload form fields.
type UploadOptions struct {
	Key         string
	CaseID      string
	UploadedBy  string
	ContentType string
}

// Upload sends payload as a multipart upload under filename.
func (c *DocumentClient) Upload(ctx context.Context, filename string, payload []byte, opts UploadOptions) (*api.UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range map[string]string{
		api.FormFieldKey:        opts.Key,
		api.FormFieldCaseID:     opts.CaseID,
		api.FormFieldUploadedBy: opts.UploadedBy,
	} {
		if value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return nil, err
		}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = storage.MimeTypeFor(filename)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, api.FormFieldFile, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(payload); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ServerAddr+"/api/documents", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp api.UploadResponse
	if err := c.doJSON(req, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Download returns the document bytes and the backend that served them.
func (c *DocumentClient) Download(ctx context.Context, key string, backend interfaces.BackendID) ([]byte, interfaces.BackendID, error) {
	u := c.ServerAddr + "/files/" + escapePath(key)
	if backend != interfaces.BackendAuto {
		u += "?" + url.Values{"backend": {backend.String()}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, interfaces.BackendAuto, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, interfaces.BackendAuto, fmt.Errorf("could not request file endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, interfaces.BackendAuto, readStatusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, interfaces.BackendAuto, err
	}
	servedBy, _ := interfaces.ParseBackendID(resp.Header.Get(api.StorageBackendHeader))
	return data, servedBy, nil
}

// Delete removes key from backend, or from every backend for BackendAuto.
func (c *DocumentClient) Delete(ctx context.Context, key string, backend interfaces.BackendID, bytesOnly bool) (*api.DeleteResponse, error) {
	q := url.Values{"key": {key}}
	if backend != interfaces.BackendAuto {
		q.Set("backend", backend.String())
	}
	if bytesOnly {
		q.Set("bytesOnly", "true")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.ServerAddr+"/api/documents?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp api.DeleteResponse
	if err := c.doJSON(req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// URL asks for a retrieval URL. A zero expiry uses the backend default.
func (c *DocumentClient) URL(ctx context.Context, key string, backend interfaces.BackendID, expiry time.Duration) (string, error) {
	q := url.Values{"key": {key}}
	if backend != interfaces.BackendAuto {
		q.Set("backend", backend.String())
	}
	if expiry > 0 {
		q.Set("expiry", strconv.FormatInt(int64(expiry/time.Second), 10))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ServerAddr+"/api/documents/url?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	var resp api.URLResponse
	if err := c.doJSON(req, http.StatusOK, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// Info returns the metadata of key.
func (c *DocumentClient) Info(ctx context.Context, key string, backend interfaces.BackendID) (*interfaces.ObjectMetadata, error) {
	q := url.Values{"key": {key}}
	if backend != interfaces.BackendAuto {
		q.Set("backend", backend.String())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ServerAddr+"/api/documents/info?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var meta interfaces.ObjectMetadata
	if err := c.doJSON(req, http.StatusOK, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Migrate copies key between backends.
func (c *DocumentClient) Migrate(ctx context.Context, migrate api.MigrateRequest) (*api.MigrateResponse, error) {
	body, err := json.Marshal(migrate)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ServerAddr+"/api/documents/migrate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp api.MigrateResponse
	if err := c.doJSON(req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Usage fetches the aggregated usage report.
func (c *DocumentClient) Usage(ctx context.Context) (*storage.UsageReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ServerAddr+"/api/admin/usage", nil)
	if err != nil {
		return nil, err
	}

	var report storage.UsageReport
	if err := c.doJSON(req, http.StatusOK, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *DocumentClient) doJSON(req *http.Request, expected int, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		return readStatusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse response: %w", err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	statusErr := &StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil && body.Error != "" {
		statusErr.Message = body.Error
	}
	return statusErr
}

func escapePath(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
