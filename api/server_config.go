package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the document server and its metrics listener.
type HTTPServerConfig struct {
	ListenAddr string

	// MetricsAddr is where /metrics is served. Empty disables the metrics listener.
	MetricsAddr string

	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long /drain waits after flipping readiness, so
	// load balancers stop routing uploads before shutdown.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds how long in-flight uploads may run
	// once shutdown starts.
	GracefulShutdownDuration time.Duration

	// ReadTimeout covers the whole request including the multipart body,
	// so it must allow the largest permitted upload.
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
}
