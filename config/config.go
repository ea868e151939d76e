// Package config holds the storage configuration surface: backend
// credentials, the local root directory, the relational database URL and
// the backend priority order.
//
// Values normally arrive through CLI flags bound to environment variables
// (see cmd/flags). LoadDotEnv reads a .env file first, and a HashiCorp Vault
// KV secret may fill credentials that are still empty (see LoadVaultSecrets).
// Missing credentials never fail startup; they leave the matching backend
// unavailable.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ruteri/legal-docstore/interfaces"
)

// CDN configures the S3-compatible object store fronted by a CDN.
type CDN struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool

	// PublicBaseURL is the browser-facing base, e.g. https://cdn.example.com/documents.
	PublicBaseURL string
	// Folder prefixes every object name.
	Folder string

	Plan       string
	QuotaBytes int64
}

// Configured reports whether the credentials needed to reach the store are present.
func (c CDN) Configured() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

// Block configures cloud block storage.
type Block struct {
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	// Endpoint overrides the AWS endpoint for S3-compatible providers.
	Endpoint string
	// URLExpiry is the default lifetime of signed URLs.
	URLExpiry time.Duration
}

// Configured reports whether the credentials needed to reach the bucket are present.
func (b Block) Configured() bool {
	return b.AccessKey != "" && b.SecretKey != "" && b.Bucket != ""
}

// Storage is the complete storage configuration.
type Storage struct {
	CDN   CDN
	Block Block

	// LocalRoot is the local-filesystem root directory.
	LocalRoot string

	// DatabaseURL enables the relational-blob backend when set.
	DatabaseURL string

	Priority    []interfaces.BackendID
	RoutePrefix string
	MaxFileSize int64
}

const (
	DefaultLocalRoot   = "uploads"
	DefaultRoutePrefix = "/files/"
	DefaultMaxFileSize = 10 * 1024 * 1024
	DefaultRegion      = "us-east-1"
	DefaultURLExpiry   = time.Hour
	DefaultCDNPlan     = "free"
)

// Default returns a configuration with only local storage enabled.
func Default() *Storage {
	return &Storage{
		CDN:         CDN{Region: DefaultRegion, UseSSL: true, Plan: DefaultCDNPlan},
		Block:       Block{URLExpiry: DefaultURLExpiry},
		LocalRoot:   DefaultLocalRoot,
		Priority:    append([]interfaces.BackendID(nil), interfaces.DefaultPriority...),
		RoutePrefix: DefaultRoutePrefix,
		MaxFileSize: DefaultMaxFileSize,
	}
}

// Validate checks invariants that cannot be expressed by absence.
func (s *Storage) Validate() error {
	var errs []error
	if len(s.Priority) == 0 {
		errs = append(errs, errors.New("storage priority must name at least one backend"))
	}
	for _, id := range s.Priority {
		if id == interfaces.BackendAuto {
			errs = append(errs, errors.New("storage priority cannot contain auto"))
		}
	}
	if s.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("max file size must be positive, got %d", s.MaxFileSize))
	}
	if !strings.HasPrefix(s.RoutePrefix, "/") {
		errs = append(errs, fmt.Errorf("route prefix must start with '/', got %q", s.RoutePrefix))
	}
	if s.CDN.QuotaBytes < 0 {
		errs = append(errs, errors.New("cdn quota cannot be negative"))
	}
	if s.Block.URLExpiry < 0 {
		errs = append(errs, errors.New("block url expiry cannot be negative"))
	}
	return errors.Join(errs...)
}

// Secret names recognized by ApplySecrets. They match the environment variable names.
const (
	SecretCDNAccessKey   = "CDN_ACCESS_KEY"
	SecretCDNSecretKey   = "CDN_SECRET_KEY"
	SecretCDNEndpoint    = "CDN_ENDPOINT"
	SecretCDNBucket      = "CDN_BUCKET"
	SecretBlockAccessKey = "BLOCK_ACCESS_KEY"
	SecretBlockSecretKey = "BLOCK_SECRET_KEY"
	SecretBlockBucket    = "BLOCK_BUCKET"
	SecretBlockRegion    = "BLOCK_REGION"
	SecretDatabaseURL    = "DATABASE_URL"
	SecretCDNQuotaBytes  = "CDN_QUOTA_BYTES"
)

// ApplySecrets fills empty fields from secrets keyed by environment
// variable name. Values already set are never overwritten. It returns the
// names that were applied.
func (s *Storage) ApplySecrets(secrets map[string]string) []string {
	var applied []string
	fill := func(name string, dst *string) {
		if v := strings.TrimSpace(secrets[name]); v != "" && *dst == "" {
			*dst = v
			applied = append(applied, name)
		}
	}

	fill(SecretCDNEndpoint, &s.CDN.Endpoint)
	fill(SecretCDNAccessKey, &s.CDN.AccessKey)
	fill(SecretCDNSecretKey, &s.CDN.SecretKey)
	fill(SecretCDNBucket, &s.CDN.Bucket)
	fill(SecretBlockAccessKey, &s.Block.AccessKey)
	fill(SecretBlockSecretKey, &s.Block.SecretKey)
	fill(SecretBlockBucket, &s.Block.Bucket)
	fill(SecretBlockRegion, &s.Block.Region)
	fill(SecretDatabaseURL, &s.DatabaseURL)

	if v := secrets[SecretCDNQuotaBytes]; v != "" && s.CDN.QuotaBytes == 0 {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			s.CDN.QuotaBytes = n
			applied = append(applied, SecretCDNQuotaBytes)
		}
	}
	return applied
}

// LoadDotEnv loads environment variables from the given .env files
// (default ".env"). A missing file is not an error.
func LoadDotEnv(paths ...string) (loaded bool) {
	return godotenv.Load(paths...) == nil
}
