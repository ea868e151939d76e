package storage

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/legal-docstore/config"
	"github.com/ruteri/legal-docstore/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCDNBackend(t *testing.T, srv *httptest.Server, folder string) *CDNBackend {
	t.Helper()
	b, err := NewCDNBackend(config.CDN{
		Endpoint:      strings.TrimPrefix(srv.URL, "http://"),
		AccessKey:     "cdn-access",
		SecretKey:     "cdn-secret",
		Bucket:        "documents",
		Region:        "us-east-1",
		PublicBaseURL: "https://cdn.example.com/documents/",
		Folder:        folder,
		QuotaBytes:    1 << 30,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.True(t, b.Available())
	return b
}

func TestCDNBackend_Unconfigured(t *testing.T) {
	b, err := NewCDNBackend(config.CDN{Bucket: "documents"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.False(t, b.Available())
	_, err = b.Store(context.Background(), []byte("x"), "a.txt", nil)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	assert.False(t, b.Exists(context.Background(), "a.txt"))
}

func TestCDNBackend_RoundTrip(t *testing.T) {
	fake, srv := newFakeS3(t, "documents")
	b := newTestCDNBackend(t, srv, "legal")
	ctx := context.Background()
	payload := []byte("%PDF-1.4 contract body")

	url, err := b.Store(ctx, payload, "contract-42.pdf", map[string]string{
		interfaces.MetaOriginalName: "Contrato Arrendamiento.pdf",
		interfaces.MetaCaseID:       "17",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/documents/legal/contract-42.pdf", url)

	stored, ok := fake.get("legal/contract-42.pdf")
	require.True(t, ok)
	assert.Equal(t, "application/pdf", stored.contentType)

	body, meta, err := b.Fetch(ctx, "contract-42.pdf")
	require.NoError(t, err)
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())

	assert.Equal(t, payload, got)
	assert.Equal(t, int64(len(payload)), meta.SizeBytes)
	assert.Equal(t, "application/pdf", meta.ContentType)
	assert.Equal(t, interfaces.BackendCDN, meta.Backend)
	assert.Equal(t, "17", meta.Custom[interfaces.MetaCaseID])
	assert.Equal(t, "raw", meta.Custom[interfaces.MetaResourceType])
	assert.Equal(t, "pdf", meta.Custom[interfaces.MetaFormat])
	assert.Equal(t, "Contrato Arrendamiento.pdf", meta.Custom[interfaces.MetaOriginalName])
}

func TestCDNBackend_PrefixResolution(t *testing.T) {
	fake, srv := newFakeS3(t, "documents")
	b := newTestCDNBackend(t, srv, "")
	ctx := context.Background()

	fake.put("contract-42.pdf", fakeObject{data: []byte("pdf"), contentType: "application/pdf"})
	fake.put("contract-42/nested.txt", fakeObject{data: []byte("nested"), contentType: "text/plain"})

	assert.True(t, b.Exists(ctx, "contract-42"))

	meta, err := b.Metadata(ctx, "contract-42")
	require.NoError(t, err)
	assert.Equal(t, "contract-42", meta.Key)
	assert.Equal(t, int64(3), meta.SizeBytes)

	url, err := b.URL(ctx, "contract-42", interfaces.URLOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/documents/contract-42.pdf", url)

	// keys with an extension never resolve by prefix
	assert.False(t, b.Exists(ctx, "contract-42.doc"))

	require.NoError(t, b.Delete(ctx, "contract-42"))
	_, ok := fake.get("contract-42.pdf")
	assert.False(t, ok)
}

func TestCDNBackend_MetadataFormatFallback(t *testing.T) {
	fake, srv := newFakeS3(t, "documents")
	b := newTestCDNBackend(t, srv, "")

	fake.put("scan", fakeObject{
		data:        []byte("img"),
		contentType: DefaultContentType,
		meta:        map[string]string{"Format": "png"},
	})

	meta, err := b.Metadata(context.Background(), "scan")
	require.NoError(t, err)
	assert.Equal(t, "image/png", meta.ContentType)
	assert.Equal(t, "png", meta.Custom[interfaces.MetaFormat])
}

func TestCDNBackend_MissingAndDelete(t *testing.T) {
	_, srv := newFakeS3(t, "documents")
	b := newTestCDNBackend(t, srv, "")
	ctx := context.Background()

	_, _, err := b.Fetch(ctx, "missing.pdf")
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)

	_, err = b.Metadata(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)

	assert.NoError(t, b.Delete(ctx, "missing.pdf"))
	assert.NoError(t, b.Delete(ctx, "missing.pdf"))

	_, err = b.Store(ctx, []byte("x"), "../escape.pdf", nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidKey)
}

func TestCDNBackend_PresignedURL(t *testing.T) {
	_, srv := newFakeS3(t, "documents")
	b := newTestCDNBackend(t, srv, "")

	url, err := b.URL(context.Background(), "brief.pdf", interfaces.URLOptions{Expiry: 10 * time.Minute})
	require.NoError(t, err)
	assert.Contains(t, url, "/documents/brief.pdf")
	assert.Contains(t, url, "X-Amz-Signature=")
	assert.Contains(t, url, "X-Amz-Expires=600")
}

func TestCDNBackend_Usage(t *testing.T) {
	fake, srv := newFakeS3(t, "documents")
	b := newTestCDNBackend(t, srv, "legal")

	fake.put("legal/a.pdf", fakeObject{data: []byte("12345")})
	fake.put("legal/cases/1/b.txt", fakeObject{data: []byte("123")})
	fake.put("other/c.txt", fakeObject{data: []byte("1234567")})

	usage, err := b.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, interfaces.BackendCDN, usage.Backend)
	assert.True(t, usage.Available)
	assert.Equal(t, int64(2), usage.Files)
	assert.Equal(t, int64(8), usage.Bytes)
	assert.Equal(t, int64(1<<30), usage.QuotaBytes)
	assert.Equal(t, "free", usage.Plan)
}

func TestCDNBackend_NonASCIIMetadata(t *testing.T) {
	_, srv := newFakeS3(t, "documents")
	b := newTestCDNBackend(t, srv, "legal")
	ctx := context.Background()

	_, err := b.Store(ctx, []byte("%PDF-1.4"), "poder-notarial.pdf", map[string]string{
		interfaces.MetaOriginalName: "Poder Notarial Peña.pdf",
	})
	require.NoError(t, err)

	meta, err := b.Metadata(ctx, "poder-notarial.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Poder Notarial Peña.pdf", meta.Custom[interfaces.MetaOriginalName])
}
