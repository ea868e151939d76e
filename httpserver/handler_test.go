package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/legal-docstore/api"
	"github.com/ruteri/legal-docstore/interfaces"
	"github.com/ruteri/legal-docstore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	root   string
	router *storage.Router
	srv    http.Handler
}

// newTestEnv serves a router backed by local storage only.
func newTestEnv(t *testing.T, maxFileSize int64) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := t.TempDir()

	local, err := storage.NewFileBackend(root, "/files/", logger)
	require.NoError(t, err)
	router, err := storage.NewRouter([]interfaces.StorageAdapter{local}, nil, logger)
	require.NoError(t, err)

	handler := NewHandler(router, maxFileSize, logger)
	handler.now = func() time.Time { return time.UnixMilli(1767225600000) }

	server, err := New(newTestServerConfig(), handler, "/files/")
	require.NoError(t, err)

	return &testEnv{root: root, router: router, srv: server.Handler()}
}

func newTestServerConfig() *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		Log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		DrainDuration: time.Millisecond,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, filename, contentType string, payload []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHandleUpload_Success(t *testing.T) {
	env := newTestEnv(t, 1024)

	w := env.do(multipartUpload(t, "Escritura.pdf", "application/pdf", []byte("%PDF-1.4"), map[string]string{
		"caseId":     "77",
		"uploadedBy": "lawyer-1",
	}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Key          string `json:"key"`
		Backend      string `json:"backend"`
		URL          string `json:"url"`
		SizeBytes    int64  `json:"size_bytes"`
		ContentType  string `json:"content_type"`
		OriginalName string `json:"original_name"`
	}
	decodeJSON(t, w, &resp)
	assert.Regexp(t, `^cases/77/1767225600000-[0-9a-f]{8}\.pdf$`, resp.Key)
	assert.Equal(t, "local-fs", resp.Backend)
	assert.Equal(t, "/files/"+resp.Key, resp.URL)
	assert.Equal(t, int64(8), resp.SizeBytes)
	assert.Equal(t, "application/pdf", resp.ContentType)
	assert.Equal(t, "Escritura.pdf", resp.OriginalName)

	data, err := os.ReadFile(filepath.Join(env.root, filepath.FromSlash(resp.Key)))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)
}

func TestHandleUpload_ExplicitKeyAndTypeFromName(t *testing.T) {
	env := newTestEnv(t, 1024)

	w := env.do(multipartUpload(t, "notes.txt", "application/octet-stream", []byte("0123456789"), map[string]string{"key": "abc123.txt"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res api.UploadResponse
	decodeJSON(t, w, &res)
	assert.Equal(t, "abc123.txt", res.Key)
	assert.Equal(t, interfaces.BackendLocal, res.Backend)
	assert.Equal(t, "text/plain", res.ContentType)
}

func TestHandleUpload_Rejections(t *testing.T) {
	env := newTestEnv(t, 16)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{
			name:   "too large",
			req:    multipartUpload(t, "big.pdf", "application/pdf", bytes.Repeat([]byte("x"), 100), nil),
			status: http.StatusRequestEntityTooLarge,
		},
		{
			name:   "type not allowed",
			req:    multipartUpload(t, "run.exe", "application/x-msdownload", []byte("MZ"), nil),
			status: http.StatusUnsupportedMediaType,
		},
		{
			name:   "unknown extension",
			req:    multipartUpload(t, "file.xyz", "", []byte("x"), nil),
			status: http.StatusUnsupportedMediaType,
		},
		{
			name:   "traversal key",
			req:    multipartUpload(t, "a.pdf", "application/pdf", []byte("x"), map[string]string{"key": "../escape.pdf"}),
			status: http.StatusBadRequest,
		},
		{
			name:   "not multipart",
			req:    httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader("{}")),
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(tt.req)
			assert.Equal(t, tt.status, w.Code)

			var body map[string]string
			decodeJSON(t, w, &body)
			assert.NotEmpty(t, body["error"])
		})
	}

	entries, err := os.ReadDir(env.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleServeFile(t *testing.T) {
	env := newTestEnv(t, 1024)
	ctx := context.Background()

	_, err := env.router.Upload(ctx, []byte("0123456789"), "abc123.txt", nil)
	require.NoError(t, err)
	_, err = env.router.Upload(ctx, []byte("brief"), "cases/3/initial brief.pdf", map[string]string{
		interfaces.MetaOriginalName: "Initial Brief.pdf",
	})
	require.NoError(t, err)

	w := env.do(httptest.NewRequest(http.MethodGet, "/files/abc123.txt", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0123456789", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, "10", w.Header().Get("Content-Length"))
	assert.Equal(t, "local-fs", w.Header().Get("X-Storage-Backend"))

	w = env.do(httptest.NewRequest(http.MethodGet, "/files/cases/3/initial%20brief.pdf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "brief", w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))

	w = env.do(httptest.NewRequest(http.MethodGet, "/files/missing.pdf", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/files/abc123.txt?backend=block-storage", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/files/abc123.txt?backend=tape", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDelete(t *testing.T) {
	env := newTestEnv(t, 1024)
	_, err := env.router.Upload(context.Background(), []byte("x"), "old.pdf", nil)
	require.NoError(t, err)

	w := env.do(httptest.NewRequest(http.MethodDelete, "/api/documents?key=old.pdf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		Key     string   `json:"key"`
		Removed []string `json:"removed"`
	}
	decodeJSON(t, w, &report)
	assert.Equal(t, []string{"local-fs"}, report.Removed)

	// second delete still succeeds
	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/documents?key=old.pdf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &report)
	assert.Empty(t, report.Removed)

	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/documents", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/documents?key=a.pdf&bytesOnly=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleURLAndInfo(t *testing.T) {
	env := newTestEnv(t, 1024)
	_, err := env.router.Upload(context.Background(), []byte("12345"), "cases/1/a.pdf", nil)
	require.NoError(t, err)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/url?key=cases/1/a.pdf&expiry=600", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var urlResp api.URLResponse
	decodeJSON(t, w, &urlResp)
	assert.Equal(t, "/files/cases/1/a.pdf", urlResp.URL)

	// unknown keys still get the route URL
	w = env.do(httptest.NewRequest(http.MethodGet, "/api/documents/url?key=nope.pdf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &urlResp)
	assert.Equal(t, "/files/nope.pdf", urlResp.URL)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/documents/url?key=a.pdf&expiry=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/documents/info?key=cases/1/a.pdf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var meta interfaces.ObjectMetadata
	decodeJSON(t, w, &meta)
	assert.Equal(t, int64(5), meta.SizeBytes)
	assert.Equal(t, "application/pdf", meta.ContentType)
	assert.Equal(t, interfaces.BackendLocal, meta.Backend)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/documents/info?key=nope.pdf", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleMigrate(t *testing.T) {
	env := newTestEnv(t, 1024)

	body := `{"key":"a.pdf","from":"local-fs","to":"local-fs"}`
	w := env.do(httptest.NewRequest(http.MethodPost, "/api/documents/migrate", strings.NewReader(body)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := env.router.Upload(context.Background(), []byte("x"), "a.pdf", nil)
	require.NoError(t, err)

	w = env.do(httptest.NewRequest(http.MethodPost, "/api/documents/migrate", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	var resp api.MigrateResponse
	decodeJSON(t, w, &resp)
	assert.True(t, resp.Migrated)
	assert.Equal(t, interfaces.BackendLocal, resp.To)

	w = env.do(httptest.NewRequest(http.MethodPost, "/api/documents/migrate",
		strings.NewReader(`{"key":"a.pdf","from":"local-fs","to":"block-storage"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(httptest.NewRequest(http.MethodPost, "/api/documents/migrate",
		strings.NewReader(`{"key":"a.pdf","from":"floppy","to":"local-fs"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleUsage(t *testing.T) {
	env := newTestEnv(t, 1024)
	_, err := env.router.Upload(context.Background(), []byte("12345"), "a.pdf", nil)
	require.NoError(t, err)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/admin/usage", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var report struct {
		LocalFiles int64 `json:"local_files"`
		LocalBytes int64 `json:"local_bytes"`
		Backends   []struct {
			Backend   string `json:"backend"`
			Available bool   `json:"available"`
		} `json:"backends"`
	}
	decodeJSON(t, w, &report)
	assert.Equal(t, int64(1), report.LocalFiles)
	assert.Equal(t, int64(5), report.LocalBytes)
	require.Len(t, report.Backends, 1)
	assert.Equal(t, "local-fs", report.Backends[0].Backend)
}

func TestWriteErrorHidesBackendDetail(t *testing.T) {
	h := NewHandler(nil, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	w := httptest.NewRecorder()
	h.writeError(w, &storage.AttemptsError{
		Err:      interfaces.ErrStorageExhausted,
		Attempts: []storage.Attempt{{Backend: interfaces.BackendBlock, Err: io.ErrUnexpectedEOF}},
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "block-storage")
	assert.NotContains(t, w.Body.String(), "unexpected EOF")

	w = httptest.NewRecorder()
	h.writeError(w, interfaces.ErrBackendUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
