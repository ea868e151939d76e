package flags

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/legal-docstore/api"
	"github.com/ruteri/legal-docstore/common"
	"github.com/ruteri/legal-docstore/config"
	"github.com/ruteri/legal-docstore/interfaces"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		ReadHeaderTimeout:        10 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// StorageConfig builds the storage configuration from the storage flags.
func StorageConfig(cCtx *cli.Context) (*config.Storage, error) {
	cfg := config.Default()

	cfg.CDN = config.CDN{
		Endpoint:      cCtx.String(CDNEndpointFlag.Name),
		AccessKey:     cCtx.String(CDNAccessKeyFlag.Name),
		SecretKey:     cCtx.String(CDNSecretKeyFlag.Name),
		Bucket:        cCtx.String(CDNBucketFlag.Name),
		Region:        cCtx.String(CDNRegionFlag.Name),
		UseSSL:        cCtx.Bool(CDNUseSSLFlag.Name),
		PublicBaseURL: cCtx.String(CDNPublicBaseURLFlag.Name),
		Folder:        cCtx.String(CDNFolderFlag.Name),
		Plan:          cCtx.String(CDNPlanFlag.Name),
		QuotaBytes:    cCtx.Int64(CDNQuotaBytesFlag.Name),
	}
	cfg.Block = config.Block{
		AccessKey: cCtx.String(BlockAccessKeyFlag.Name),
		SecretKey: cCtx.String(BlockSecretKeyFlag.Name),
		Region:    cCtx.String(BlockRegionFlag.Name),
		Bucket:    cCtx.String(BlockBucketFlag.Name),
		Endpoint:  cCtx.String(BlockEndpointFlag.Name),
		URLExpiry: cCtx.Duration(BlockURLExpiryFlag.Name),
	}
	cfg.LocalRoot = cCtx.String(UploadDirFlag.Name)
	cfg.DatabaseURL = cCtx.String(DatabaseURLFlag.Name)
	cfg.RoutePrefix = cCtx.String(FilesRoutePrefixFlag.Name)
	cfg.MaxFileSize = cCtx.Int64(MaxFileSizeFlag.Name)

	priority, err := interfaces.ParsePriority(cCtx.String(StoragePriorityFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", StoragePriorityFlag.Name, err)
	}
	cfg.Priority = priority

	return cfg, cfg.Validate()
}

// VaultSource returns where to read credential secrets from, if anywhere.
func VaultSource(cCtx *cli.Context) config.VaultSource {
	return config.VaultSource{
		Address:    cCtx.String(VaultAddrFlag.Name),
		Token:      cCtx.String(VaultTokenFlag.Name),
		SecretPath: cCtx.String(VaultSecretPathFlag.Name),
		Timeout:    10 * time.Second,
	}
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

// CDN object storage
var CDNEndpointFlag = &cli.StringFlag{
	Name:    "cdn-endpoint",
	EnvVars: []string{"CDN_ENDPOINT"},
	Usage:   "S3-compatible endpoint (host:port) of the CDN object store",
}
var CDNAccessKeyFlag = &cli.StringFlag{
	Name:    "cdn-access-key",
	EnvVars: []string{"CDN_ACCESS_KEY"},
	Usage:   "CDN object store access key",
}
var CDNSecretKeyFlag = &cli.StringFlag{
	Name:    "cdn-secret-key",
	EnvVars: []string{"CDN_SECRET_KEY"},
	Usage:   "CDN object store secret key",
}
var CDNBucketFlag = &cli.StringFlag{
	Name:    "cdn-bucket",
	EnvVars: []string{"CDN_BUCKET"},
	Usage:   "CDN object store bucket",
}
var CDNRegionFlag = &cli.StringFlag{
	Name:    "cdn-region",
	EnvVars: []string{"CDN_REGION"},
	Value:   config.DefaultRegion,
	Usage:   "CDN object store region",
}
var CDNUseSSLFlag = &cli.BoolFlag{
	Name:    "cdn-use-ssl",
	EnvVars: []string{"CDN_USE_SSL"},
	Value:   true,
	Usage:   "use TLS towards the CDN object store",
}
var CDNPublicBaseURLFlag = &cli.StringFlag{
	Name:    "cdn-public-base-url",
	EnvVars: []string{"CDN_PUBLIC_BASE_URL"},
	Usage:   "browser-facing base URL of the CDN, e.g. https://cdn.example.com/documents",
}
var CDNFolderFlag = &cli.StringFlag{
	Name:    "cdn-folder",
	EnvVars: []string{"CDN_FOLDER"},
	Usage:   "folder prefixed to every CDN object name",
}
var CDNPlanFlag = &cli.StringFlag{
	Name:    "cdn-plan",
	EnvVars: []string{"CDN_PLAN"},
	Value:   config.DefaultCDNPlan,
	Usage:   "CDN plan name shown in usage reports",
}
var CDNQuotaBytesFlag = &cli.Int64Flag{
	Name:    "cdn-quota-bytes",
	EnvVars: []string{"CDN_QUOTA_BYTES"},
	Usage:   "CDN storage quota in bytes shown in usage reports",
}

// Block storage
var BlockAccessKeyFlag = &cli.StringFlag{
	Name:    "block-access-key",
	EnvVars: []string{"BLOCK_ACCESS_KEY", "AWS_ACCESS_KEY_ID"},
	Usage:   "block storage access key",
}
var BlockSecretKeyFlag = &cli.StringFlag{
	Name:    "block-secret-key",
	EnvVars: []string{"BLOCK_SECRET_KEY", "AWS_SECRET_ACCESS_KEY"},
	Usage:   "block storage secret key",
}
var BlockRegionFlag = &cli.StringFlag{
	Name:    "block-region",
	EnvVars: []string{"BLOCK_REGION", "AWS_REGION"},
	Usage:   "block storage region (default " + config.DefaultRegion + ")",
}
var BlockBucketFlag = &cli.StringFlag{
	Name:    "block-bucket",
	EnvVars: []string{"BLOCK_BUCKET", "AWS_S3_BUCKET"},
	Usage:   "block storage bucket",
}
var BlockEndpointFlag = &cli.StringFlag{
	Name:    "block-endpoint",
	EnvVars: []string{"BLOCK_ENDPOINT"},
	Usage:   "custom endpoint for S3-compatible block storage",
}
var BlockURLExpiryFlag = &cli.DurationFlag{
	Name:    "block-url-expiry",
	EnvVars: []string{"BLOCK_URL_EXPIRY"},
	Value:   config.DefaultURLExpiry,
	Usage:   "default lifetime of signed block storage URLs",
}

// Local and relational storage, routing
var UploadDirFlag = &cli.StringFlag{
	Name:    "upload-dir",
	EnvVars: []string{"UPLOAD_DIR", "UPLOAD_DEST"},
	Value:   config.DefaultLocalRoot,
	Usage:   "root directory of local document storage",
}
var DatabaseURLFlag = &cli.StringFlag{
	Name:    "database-url",
	EnvVars: []string{"DATABASE_URL"},
	Usage:   "PostgreSQL URL; enables the relational-blob backend",
}
var StoragePriorityFlag = &cli.StringFlag{
	Name:    "storage-priority",
	EnvVars: []string{"STORAGE_PRIORITY"},
	Value:   "cdn-object,block-storage,local-fs",
	Usage:   "comma separated write priority of backends",
}
var FilesRoutePrefixFlag = &cli.StringFlag{
	Name:    "files-route-prefix",
	EnvVars: []string{"FILES_ROUTE_PREFIX"},
	Value:   config.DefaultRoutePrefix,
	Usage:   "route serving documents without a direct URL",
}
var MaxFileSizeFlag = &cli.Int64Flag{
	Name:    "max-file-size",
	EnvVars: []string{"MAX_FILE_SIZE"},
	Value:   config.DefaultMaxFileSize,
	Usage:   "maximum upload size in bytes",
}

// Vault secret overlay
var VaultAddrFlag = &cli.StringFlag{
	Name:    "vault-addr",
	EnvVars: []string{"VAULT_ADDR"},
	Usage:   "Vault address to read storage credentials from",
}
var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	EnvVars: []string{"VAULT_TOKEN"},
	Usage:   "Vault token",
}
var VaultSecretPathFlag = &cli.StringFlag{
	Name:    "vault-secret-path",
	EnvVars: []string{"VAULT_SECRET_PATH"},
	Usage:   "logical path of the KV secret, e.g. secret/data/docstore",
}

var StorageFlags = []cli.Flag{
	CDNEndpointFlag,
	CDNAccessKeyFlag,
	CDNSecretKeyFlag,
	CDNBucketFlag,
	CDNRegionFlag,
	CDNUseSSLFlag,
	CDNPublicBaseURLFlag,
	CDNFolderFlag,
	CDNPlanFlag,
	CDNQuotaBytesFlag,
	BlockAccessKeyFlag,
	BlockSecretKeyFlag,
	BlockRegionFlag,
	BlockBucketFlag,
	BlockEndpointFlag,
	BlockURLExpiryFlag,
	UploadDirFlag,
	DatabaseURLFlag,
	StoragePriorityFlag,
	FilesRoutePrefixFlag,
	MaxFileSizeFlag,
	VaultAddrFlag,
	VaultTokenFlag,
	VaultSecretPathFlag,
}
