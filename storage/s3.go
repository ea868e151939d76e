package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/legal-docstore/config"
	"github.com/ruteri/legal-docstore/interfaces"
)

// maxPresignExpiry is the longest lifetime S3 accepts for a SigV4 presigned URL.
const maxPresignExpiry = 7 * 24 * time.Hour

// unknownMetaValue fills descriptive metadata the caller did not supply.
const unknownMetaValue = "unknown"

// BlockBackend implements a storage backend using Amazon S3 or compatible
// block storage. Objects live at the logical key inside a single bucket.
type BlockBackend struct {
	client      s3iface.S3API
	cfg         config.Block
	log         *slog.Logger
	locationURI string
}

// NewBlockBackend creates a block storage backend. Without credentials the
// backend is returned unavailable rather than failing.
func NewBlockBackend(cfg config.Block, log *slog.Logger) (*BlockBackend, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Region == "" {
		cfg.Region = config.DefaultRegion
	}
	if cfg.URLExpiry == 0 {
		cfg.URLExpiry = config.DefaultURLExpiry
	}

	uri := fmt.Sprintf("s3://%s?region=%s", cfg.Bucket, cfg.Region)
	if cfg.Endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", cfg.Endpoint)
	}

	b := &BlockBackend{cfg: cfg, log: log, locationURI: uri}
	if !cfg.Configured() {
		log.Warn("Block storage credentials missing, backend disabled")
		return b, nil
	}

	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	b.client = s3.New(sess)
	return b, nil
}

func (b *BlockBackend) ID() interfaces.BackendID { return interfaces.BackendBlock }

func (b *BlockBackend) Available() bool { return b.client != nil }

func (b *BlockBackend) DeletionScope() interfaces.DeletionScope { return interfaces.DeleteBytesOnly }

// LocationURI returns the URI that identifies this storage backend.
func (b *BlockBackend) LocationURI() string { return b.locationURI }

// Store uploads payload with an explicit content type and length. Missing
// descriptive metadata is recorded as "unknown".
func (b *BlockBackend) Store(ctx context.Context, payload []byte, key string, metadata map[string]string) (string, error) {
	if !b.Available() {
		return "", interfaces.ErrBackendUnavailable
	}
	if err := validatePathKey(key); err != nil {
		return "", err
	}

	start := time.Now()
	contentType := contentTypeFor(key, metadata)

	meta := headerSafeMetadata(metadata)
	for _, k := range []string{interfaces.MetaOriginalName, interfaces.MetaUploadedBy, interfaces.MetaCaseID} {
		if meta[k] == "" {
			meta[k] = unknownMetaValue
		}
	}

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(payload))),
		Metadata:      aws.StringMap(meta),
	})
	if err != nil {
		b.log.Error("Failed to upload object to block storage",
			slog.String("bucket", b.cfg.Bucket),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return "", fmt.Errorf("%w: %v", interfaces.ErrBackendWrite, err)
	}

	b.log.Debug("Stored content in block storage",
		slog.String("bucket", b.cfg.Bucket),
		slog.String("key", key),
		slog.Int("size", len(payload)),
		slog.Duration("duration", time.Since(start)))

	return b.objectURL(key), nil
}

// Fetch streams the object. Returns ErrObjectNotFound if it doesn't exist.
func (b *BlockBackend) Fetch(ctx context.Context, key string) (io.ReadCloser, *interfaces.ObjectMetadata, error) {
	if !b.Available() {
		return nil, nil, interfaces.ErrBackendUnavailable
	}
	if err := validatePathKey(key); err != nil {
		return nil, nil, err
	}

	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, nil, interfaces.ErrObjectNotFound
		}
		b.log.Error("Failed to get object from block storage",
			slog.String("bucket", b.cfg.Bucket),
			slog.String("key", key),
			"err", err)
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrBackendRead, err)
	}

	return out.Body, b.buildMetadata(key, out.ContentLength, out.ContentType, out.LastModified, out.Metadata), nil
}

// Exists issues a HEAD request; any error counts as absent.
func (b *BlockBackend) Exists(ctx context.Context, key string) bool {
	_, err := b.Metadata(ctx, key)
	return err == nil
}

// Delete removes the object. S3 deletes are idempotent.
func (b *BlockBackend) Delete(ctx context.Context, key string) error {
	if !b.Available() {
		return interfaces.ErrBackendUnavailable
	}
	if err := validatePathKey(key); err != nil {
		return err
	}

	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isAWSNotFound(err) {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendWrite, err)
	}

	b.log.Debug("Deleted object from block storage",
		slog.String("bucket", b.cfg.Bucket),
		slog.String("key", key))
	return nil
}

// Metadata reads the object headers without the body.
func (b *BlockBackend) Metadata(ctx context.Context, key string) (*interfaces.ObjectMetadata, error) {
	if !b.Available() {
		return nil, interfaces.ErrBackendUnavailable
	}
	if err := validatePathKey(key); err != nil {
		return nil, err
	}

	out, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, interfaces.ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendRead, err)
	}
	return b.buildMetadata(key, out.ContentLength, out.ContentType, out.LastModified, out.Metadata), nil
}

// URL returns a time-limited signed GET URL. Signing is local; existence is not checked.
func (b *BlockBackend) URL(ctx context.Context, key string, opts interfaces.URLOptions) (string, error) {
	if !b.Available() {
		return "", interfaces.ErrBackendUnavailable
	}
	if err := validatePathKey(key); err != nil {
		return "", err
	}

	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = b.cfg.URLExpiry
	}
	if expiry > maxPresignExpiry {
		expiry = maxPresignExpiry
	}

	req, _ := b.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	signed, err := req.Presign(expiry)
	if err != nil {
		return "", fmt.Errorf("%w: failed to presign: %v", interfaces.ErrBackendRead, err)
	}
	return signed, nil
}

// Usage lists the bucket and totals object count and size.
func (b *BlockBackend) Usage(ctx context.Context) (*interfaces.BackendUsage, error) {
	if !b.Available() {
		return nil, interfaces.ErrBackendUnavailable
	}

	usage := &interfaces.BackendUsage{
		Backend:   interfaces.BackendBlock,
		Available: true,
		Plan:      "pay-as-you-go",
	}
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.cfg.Bucket),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			usage.Files++
			usage.Bytes += aws.Int64Value(obj.Size)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list bucket: %v", interfaces.ErrBackendRead, err)
	}
	return usage, nil
}

func (b *BlockBackend) buildMetadata(key string, size *int64, contentType *string, modified *time.Time, meta map[string]*string) *interfaces.ObjectMetadata {
	ct := aws.StringValue(contentType)
	if ct == "" {
		ct = MimeTypeFor(key)
	}
	return &interfaces.ObjectMetadata{
		Key:         key,
		Backend:     interfaces.BackendBlock,
		SizeBytes:   aws.Int64Value(size),
		ContentType: ct,
		CreatedAt:   aws.TimeValue(modified),
		Custom:      normalizeUserMetadata(aws.StringValueMap(meta)),
	}
}

// objectURL is the unsigned address of key; private buckets need URL for reads.
func (b *BlockBackend) objectURL(key string) string {
	if b.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(b.cfg.Endpoint, "/"), b.cfg.Bucket, escapeKey(key))
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.cfg.Bucket, b.cfg.Region, escapeKey(key))
}

func isAWSNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
