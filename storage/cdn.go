package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ruteri/legal-docstore/config"
	"github.com/ruteri/legal-docstore/interfaces"
)

// CDNBackend stores documents in an S3-compatible bucket served through a
// CDN. Objects are named <folder>/<key>; URLs point at the public base.
//
// Keys without an extension are resolved by prefix: "contract-42" finds
// "contract-42.pdf" when no exact object exists.
type CDNBackend struct {
	client      *minio.Client
	cfg         config.CDN
	log         *slog.Logger
	locationURI string
}

// NewCDNBackend creates the CDN backend. Missing credentials leave it unavailable.
func NewCDNBackend(cfg config.CDN, log *slog.Logger) (*CDNBackend, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Region == "" {
		cfg.Region = config.DefaultRegion
	}
	if cfg.Plan == "" {
		cfg.Plan = config.DefaultCDNPlan
	}
	cfg.Folder = strings.Trim(cfg.Folder, "/")

	b := &CDNBackend{
		cfg:         cfg,
		log:         log,
		locationURI: fmt.Sprintf("cdn://%s/%s", cfg.Bucket, cfg.Folder),
	}
	if !cfg.Configured() {
		log.Warn("CDN credentials missing, backend disabled")
		return b, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create CDN client: %w", err)
	}
	b.client = client
	return b, nil
}

func (b *CDNBackend) ID() interfaces.BackendID { return interfaces.BackendCDN }

func (b *CDNBackend) Available() bool { return b.client != nil }

func (b *CDNBackend) DeletionScope() interfaces.DeletionScope { return interfaces.DeleteBytesOnly }

// LocationURI returns the URI that identifies this storage backend.
func (b *CDNBackend) LocationURI() string { return b.locationURI }

// Store uploads payload, recording the resource type and format alongside
// the caller's metadata. Returns the public URL.
func (b *CDNBackend) Store(ctx context.Context, payload []byte, key string, metadata map[string]string) (string, error) {
	if !b.Available() {
		return "", interfaces.ErrBackendUnavailable
	}
	if err := validatePathKey(key); err != nil {
		return "", err
	}

	start := time.Now()
	name := b.objectName(key)
	contentType := contentTypeFor(key, metadata)

	userMeta := headerSafeMetadata(metadata)
	userMeta[interfaces.MetaResourceType] = resourceTypeFor(contentType)
	if format := extensionOf(key); format != "" {
		userMeta[interfaces.MetaFormat] = format
	}

	_, err := b.client.PutObject(ctx, b.cfg.Bucket, name, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType:          contentType,
		UserMetadata:         userMeta,
		DisableContentSha256: true,
	})
	if err != nil {
		b.log.Error("Failed to upload object to CDN",
			slog.String("bucket", b.cfg.Bucket),
			slog.String("object", name),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return "", fmt.Errorf("%w: %v", interfaces.ErrBackendWrite, err)
	}

	b.log.Debug("Stored content in CDN",
		slog.String("bucket", b.cfg.Bucket),
		slog.String("object", name),
		slog.Int("size", len(payload)),
		slog.Duration("duration", time.Since(start)))

	return b.publicURL(name), nil
}

func (b *CDNBackend) Fetch(ctx context.Context, key string) (io.ReadCloser, *interfaces.ObjectMetadata, error) {
	info, err := b.resolve(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	obj, err := b.client.GetObject(ctx, b.cfg.Bucket, info.Key, minio.GetObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil, nil, interfaces.ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrBackendRead, err)
	}
	return obj, b.metadataFromInfo(key, info), nil
}

func (b *CDNBackend) Exists(ctx context.Context, key string) bool {
	_, err := b.resolve(ctx, key)
	return err == nil
}

// Delete removes the resolved object. A missing object is not an error.
func (b *CDNBackend) Delete(ctx context.Context, key string) error {
	info, err := b.resolve(ctx, key)
	if err != nil {
		if errors.Is(err, interfaces.ErrObjectNotFound) {
			return nil
		}
		return err
	}

	if err := b.client.RemoveObject(ctx, b.cfg.Bucket, info.Key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendWrite, err)
	}
	b.log.Debug("Deleted object from CDN", slog.String("object", info.Key))
	return nil
}

func (b *CDNBackend) Metadata(ctx context.Context, key string) (*interfaces.ObjectMetadata, error) {
	info, err := b.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return b.metadataFromInfo(key, info), nil
}

// URL returns the public CDN URL, or a presigned URL when an expiry is requested.
func (b *CDNBackend) URL(ctx context.Context, key string, opts interfaces.URLOptions) (string, error) {
	if !b.Available() {
		return "", interfaces.ErrBackendUnavailable
	}
	if err := validatePathKey(key); err != nil {
		return "", err
	}

	name := b.objectName(key)
	if extensionOf(key) == "" {
		if info, err := b.resolve(ctx, key); err == nil {
			name = info.Key
		}
	}

	if opts.Expiry <= 0 {
		return b.publicURL(name), nil
	}
	expiry := opts.Expiry
	if expiry > maxPresignExpiry {
		expiry = maxPresignExpiry
	}
	u, err := b.client.PresignedGetObject(ctx, b.cfg.Bucket, name, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to presign: %v", interfaces.ErrBackendRead, err)
	}
	return u.String(), nil
}

// Usage totals objects under the folder and reports the configured plan.
func (b *CDNBackend) Usage(ctx context.Context) (*interfaces.BackendUsage, error) {
	if !b.Available() {
		return nil, interfaces.ErrBackendUnavailable
	}

	usage := &interfaces.BackendUsage{
		Backend:    interfaces.BackendCDN,
		Available:  true,
		Plan:       b.cfg.Plan,
		QuotaBytes: b.cfg.QuotaBytes,
	}

	prefix := ""
	if b.cfg.Folder != "" {
		prefix = b.cfg.Folder + "/"
	}
	for obj := range b.client.ListObjects(ctx, b.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: failed to list objects: %v", interfaces.ErrBackendRead, obj.Err)
		}
		usage.Files++
		usage.Bytes += obj.Size
	}
	return usage, nil
}

// resolve finds the object for key: the exact name first, then for keys
// without an extension the first object named <key>.<ext>.
func (b *CDNBackend) resolve(ctx context.Context, key string) (minio.ObjectInfo, error) {
	if !b.Available() {
		return minio.ObjectInfo{}, interfaces.ErrBackendUnavailable
	}
	if err := validatePathKey(key); err != nil {
		return minio.ObjectInfo{}, err
	}

	name := b.objectName(key)
	info, err := b.client.StatObject(ctx, b.cfg.Bucket, name, minio.StatObjectOptions{})
	if err == nil {
		return info, nil
	}
	if !isMinioNotFound(err) {
		return minio.ObjectInfo{}, fmt.Errorf("%w: %v", interfaces.ErrBackendRead, err)
	}
	if extensionOf(key) != "" {
		return minio.ObjectInfo{}, interfaces.ErrObjectNotFound
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range b.client.ListObjects(listCtx, b.cfg.Bucket, minio.ListObjectsOptions{Prefix: name + "."}) {
		if obj.Err != nil {
			return minio.ObjectInfo{}, fmt.Errorf("%w: %v", interfaces.ErrBackendRead, obj.Err)
		}
		if strings.Contains(strings.TrimPrefix(obj.Key, name+"."), "/") {
			continue
		}
		full, err := b.client.StatObject(ctx, b.cfg.Bucket, obj.Key, minio.StatObjectOptions{})
		if err != nil {
			return minio.ObjectInfo{}, fmt.Errorf("%w: %v", interfaces.ErrBackendRead, err)
		}
		b.log.Debug("Resolved CDN key by prefix",
			slog.String("key", key),
			slog.String("object", obj.Key))
		return full, nil
	}
	return minio.ObjectInfo{}, interfaces.ErrObjectNotFound
}

// metadataFromInfo builds metadata, deriving the content type from the
// recorded format when the store only knows octet-stream.
func (b *CDNBackend) metadataFromInfo(key string, info minio.ObjectInfo) *interfaces.ObjectMetadata {
	custom := normalizeUserMetadata(info.UserMetadata)

	format := custom[interfaces.MetaFormat]
	if format == "" {
		format = extensionOf(info.Key)
	}
	contentType := info.ContentType
	if contentType == "" || contentType == DefaultContentType {
		contentType = MimeTypeForFormat(format)
	}

	return &interfaces.ObjectMetadata{
		Key:         key,
		Backend:     interfaces.BackendCDN,
		SizeBytes:   info.Size,
		ContentType: contentType,
		CreatedAt:   info.LastModified,
		Custom:      custom,
	}
}

func (b *CDNBackend) objectName(key string) string {
	if b.cfg.Folder == "" {
		return key
	}
	return path.Join(b.cfg.Folder, key)
}

func (b *CDNBackend) publicURL(name string) string {
	base := strings.TrimSuffix(b.cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if b.cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, b.cfg.Endpoint, b.cfg.Bucket)
	}
	return base + "/" + escapeKey(name)
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
