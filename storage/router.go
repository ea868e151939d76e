package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/legal-docstore/interfaces"
	"github.com/ruteri/legal-docstore/metrics"
)

// Attempt is one backend's outcome within a routed operation.
type Attempt struct {
	Backend interfaces.BackendID
	// Skipped is set when the backend was passed over without being called.
	Skipped bool
	Err     error
}

func (a Attempt) String() string {
	switch {
	case a.Skipped:
		return a.Backend.String() + ": skipped"
	case a.Err != nil:
		return fmt.Sprintf("%s: %v", a.Backend, a.Err)
	default:
		return a.Backend.String() + ": ok"
	}
}

// AttemptsError is a terminal routing failure. It unwraps to the sentinel
// (ErrStorageExhausted, ErrObjectNotFound) and carries every attempt made.
type AttemptsError struct {
	Err      error
	Attempts []Attempt
}

func (e *AttemptsError) Error() string {
	if len(e.Attempts) == 0 {
		return e.Err.Error()
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%v [%s]", e.Err, strings.Join(parts, "; "))
}

func (e *AttemptsError) Unwrap() error { return e.Err }

// UploadResult is the descriptor of a stored document plus the failed or
// skipped attempts that preceded the successful one.
type UploadResult struct {
	interfaces.StoredObject
	Attempts   []Attempt `json:"-"`
	LastResort bool      `json:"last_resort,omitempty"`
}

// DeleteOptions selects the delete target. The zero value deletes from
// every backend that has the key.
type DeleteOptions struct {
	Backend interfaces.BackendID
	// BytesOnly skips backends whose delete removes a whole record.
	BytesOnly bool
}

// DeleteReport lists the backends that held and removed the key.
type DeleteReport struct {
	Key      string                 `json:"key"`
	Removed  []interfaces.BackendID `json:"removed"`
	Attempts []Attempt              `json:"-"`
}

// MigrateOptions controls Migrate. The zero value keeps the source copy.
type MigrateOptions struct {
	// CleanupSource deletes the source copy once the destination is verified.
	CleanupSource bool
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithRoutePrefix sets the application route used for placeholder URLs.
func WithRoutePrefix(prefix string) RouterOption {
	return func(r *Router) {
		if prefix != "" {
			r.routePrefix = prefix
		}
	}
}

// WithClock overrides the time source used for migration timestamps and reports.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// Router persists documents across the registered adapters. Writes follow
// the priority list with a last-resort local write; reads, deletes and URL
// generation detect the owning backend and fall back to probing.
//
// The router holds no mutable state; concurrent use is safe as long as the
// adapters are. Detection and the delegated call are not atomic, so a
// concurrent delete can turn a download into ErrObjectNotFound.
type Router struct {
	priority    []interfaces.BackendID
	adapters    map[interfaces.BackendID]interfaces.StorageAdapter
	routePrefix string
	log         *slog.Logger
	now         func() time.Time
	usage       *UsageReporter
}

// NewRouter registers adapters (at most one per backend) and validates the
// priority list against them. A nil priority uses the default order
// restricted to registered backends.
func NewRouter(adapters []interfaces.StorageAdapter, priority []interfaces.BackendID, log *slog.Logger, opts ...RouterOption) (*Router, error) {
	if log == nil {
		log = slog.Default()
	}

	r := &Router{
		adapters:    make(map[interfaces.BackendID]interfaces.StorageAdapter, len(adapters)),
		routePrefix: DefaultRoutePrefix,
		log:         log,
		now:         time.Now,
	}

	for _, a := range adapters {
		if a == nil {
			continue
		}
		id := a.ID()
		if id == interfaces.BackendAuto || id.String() == "unknown" {
			return nil, fmt.Errorf("%w: adapter reports id %d", interfaces.ErrUnknownBackend, int(id))
		}
		if _, dup := r.adapters[id]; dup {
			return nil, fmt.Errorf("duplicate adapter for %s", id)
		}
		r.adapters[id] = a
	}
	if len(r.adapters) == 0 {
		return nil, errors.New("no storage adapters registered")
	}

	if priority == nil {
		for _, id := range interfaces.DefaultPriority {
			if _, ok := r.adapters[id]; ok {
				priority = append(priority, id)
			}
		}
	}
	seen := make(map[interfaces.BackendID]bool, len(priority))
	for _, id := range priority {
		if _, ok := r.adapters[id]; !ok {
			return nil, fmt.Errorf("%w: %s is prioritized but has no adapter", interfaces.ErrUnknownBackend, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		r.priority = append(r.priority, id)
	}
	if len(r.priority) == 0 {
		return nil, errors.New("storage priority is empty")
	}

	for _, opt := range opts {
		opt(r)
	}

	r.usage = NewUsageReporter(r.registered(), r.priority, r.log)
	r.usage.now = r.now

	r.logStatus()
	return r, nil
}

// Priority returns a copy of the write priority list.
func (r *Router) Priority() []interfaces.BackendID {
	return append([]interfaces.BackendID(nil), r.priority...)
}

// AvailableBackends lists the configured backends in probe order.
func (r *Router) AvailableBackends() []interfaces.BackendID {
	var out []interfaces.BackendID
	for _, id := range r.probeOrder() {
		if r.adapters[id].Available() {
			out = append(out, id)
		}
	}
	return out
}

// Adapter returns the adapter registered for id.
func (r *Router) Adapter(id interfaces.BackendID) (interfaces.StorageAdapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// Upload stores payload under key on the first backend in priority order
// that accepts it. If all of them fail and local storage was not among
// those tried, local storage is attempted once more regardless of order.
func (r *Router) Upload(ctx context.Context, payload []byte, key string, metadata map[string]string) (*UploadResult, error) {
	if err := validatePathKey(key); err != nil {
		return nil, err
	}

	start := time.Now()
	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	contentType := contentTypeFor(key, meta)
	meta[interfaces.MetaContentType] = contentType

	var (
		attempts   []Attempt
		failures   int
		localTried bool
	)
	for _, id := range r.priority {
		adapter := r.adapters[id]
		if !adapter.Available() {
			attempts = append(attempts, Attempt{Backend: id, Skipped: true, Err: interfaces.ErrBackendUnavailable})
			r.log.Debug("Backend unavailable, skipping",
				slog.String("backend", id.String()),
				slog.String("key", key))
			continue
		}
		if id == interfaces.BackendLocal {
			localTried = true
		}

		url, err := r.store(ctx, adapter, payload, key, meta)
		if err == nil {
			if failures > 0 {
				metrics.UploadFallbacks.Inc()
			}
			r.log.Info("Stored document",
				slog.String("backend", id.String()),
				slog.String("key", key),
				slog.Int("size", len(payload)),
				slog.Duration("duration", time.Since(start)))
			return r.uploadResult(id, url, key, contentType, payload, attempts, false), nil
		}

		failures++
		attempts = append(attempts, Attempt{Backend: id, Err: err})
		r.log.Warn("Failed to store to backend, trying next",
			slog.String("backend", id.String()),
			slog.String("key", key),
			"err", err)
	}

	if local, ok := r.adapters[interfaces.BackendLocal]; ok && !localTried {
		metrics.LastResortWrites.Inc()
		r.log.Error("All prioritized backends failed, writing to local storage as last resort",
			slog.String("key", key),
			slog.Int("attempts", len(attempts)))

		url, err := r.store(ctx, local, payload, key, meta)
		if err == nil {
			return r.uploadResult(interfaces.BackendLocal, url, key, contentType, payload, attempts, true), nil
		}
		attempts = append(attempts, Attempt{Backend: interfaces.BackendLocal, Err: err})
	}

	r.log.Error("All backends failed to store document",
		slog.String("key", key),
		slog.Int("attempts", len(attempts)),
		slog.Duration("duration", time.Since(start)))
	return nil, &AttemptsError{Err: interfaces.ErrStorageExhausted, Attempts: attempts}
}

// Download returns the document bytes and metadata. With BackendAuto the
// owning backend is detected, then every backend is probed.
func (r *Router) Download(ctx context.Context, key string, backend interfaces.BackendID) (io.ReadCloser, *interfaces.ObjectMetadata, error) {
	if err := validatePathKey(key); err != nil {
		return nil, nil, err
	}

	if backend != interfaces.BackendAuto {
		adapter, err := r.availableAdapter(backend)
		if err != nil {
			return nil, nil, err
		}
		return r.fetch(ctx, adapter, key)
	}

	var attempts []Attempt
	tried := make(map[interfaces.BackendID]bool)

	if id, ok := r.Detect(ctx, key); ok {
		tried[id] = true
		body, meta, err := r.fetch(ctx, r.adapters[id], key)
		if err == nil {
			return body, meta, nil
		}
		attempts = append(attempts, Attempt{Backend: id, Err: err})
		r.log.Warn("Detected backend failed to serve document, probing",
			slog.String("backend", id.String()),
			slog.String("key", key),
			"err", err)
	}

	for _, id := range r.probeOrder() {
		if tried[id] {
			continue
		}
		adapter := r.adapters[id]
		if !adapter.Available() {
			continue
		}
		body, meta, err := r.fetch(ctx, adapter, key)
		if err == nil {
			return body, meta, nil
		}
		attempts = append(attempts, Attempt{Backend: id, Err: err})
	}

	return nil, nil, &AttemptsError{Err: interfaces.ErrObjectNotFound, Attempts: attempts}
}

// Detect guesses which backend holds key: CDN for keys shaped like CDN
// public ids, then block storage, then local storage. The relational
// backend is never detected, only probed. A miss is not authoritative.
func (r *Router) Detect(ctx context.Context, key string) (interfaces.BackendID, bool) {
	if validatePathKey(key) != nil {
		return interfaces.BackendAuto, false
	}

	if a, ok := r.adapters[interfaces.BackendCDN]; ok && a.Available() && looksLikeCDNKey(key) && r.exists(ctx, a, key) {
		return interfaces.BackendCDN, true
	}
	if a, ok := r.adapters[interfaces.BackendBlock]; ok && a.Available() && r.exists(ctx, a, key) {
		return interfaces.BackendBlock, true
	}
	if a, ok := r.adapters[interfaces.BackendLocal]; ok && a.Available() && r.exists(ctx, a, key) {
		return interfaces.BackendLocal, true
	}
	return interfaces.BackendAuto, false
}

// Exists reports whether key is present on backend, or on any backend for BackendAuto.
func (r *Router) Exists(ctx context.Context, key string, backend interfaces.BackendID) bool {
	if validatePathKey(key) != nil {
		return false
	}
	if backend != interfaces.BackendAuto {
		adapter, err := r.availableAdapter(backend)
		return err == nil && r.exists(ctx, adapter, key)
	}
	_, ok := r.locate(ctx, key)
	return ok
}

// Delete removes key. With no backend in opts every backend holding the
// key is cleaned, so duplicates left by migration do not survive. A key
// found nowhere is only logged.
func (r *Router) Delete(ctx context.Context, key string, opts DeleteOptions) (*DeleteReport, error) {
	if err := validatePathKey(key); err != nil {
		return nil, err
	}

	report := &DeleteReport{Key: key}
	if opts.Backend != interfaces.BackendAuto {
		adapter, err := r.availableAdapter(opts.Backend)
		if err != nil {
			return nil, err
		}
		existed := r.exists(ctx, adapter, key)
		if err := r.delete(ctx, adapter, key); err != nil {
			report.Attempts = append(report.Attempts, Attempt{Backend: opts.Backend, Err: err})
			return report, err
		}
		report.Attempts = append(report.Attempts, Attempt{Backend: opts.Backend})
		if existed {
			report.Removed = append(report.Removed, opts.Backend)
		}
		r.log.Info("Deleted document",
			slog.String("backend", opts.Backend.String()),
			slog.String("key", key),
			slog.Bool("existed", existed))
		return report, nil
	}

	for _, id := range r.probeOrder() {
		adapter := r.adapters[id]
		if !adapter.Available() {
			continue
		}
		if opts.BytesOnly && adapter.DeletionScope() == interfaces.DeleteWholeRecord {
			report.Attempts = append(report.Attempts, Attempt{Backend: id, Skipped: true})
			continue
		}
		if !r.exists(ctx, adapter, key) {
			continue
		}
		if err := r.delete(ctx, adapter, key); err != nil {
			report.Attempts = append(report.Attempts, Attempt{Backend: id, Err: err})
			r.log.Warn("Failed to delete document from backend",
				slog.String("backend", id.String()),
				slog.String("key", key),
				"err", err)
			continue
		}
		report.Attempts = append(report.Attempts, Attempt{Backend: id})
		report.Removed = append(report.Removed, id)
	}

	if len(report.Removed) == 0 {
		r.log.Warn("Document not found in any backend", slog.String("key", key))
	} else {
		r.log.Info("Deleted document",
			slog.String("key", key),
			slog.Any("backends", report.Removed))
	}
	return report, nil
}

// GenerateURL returns a retrieval URL for key. It never fails: any problem
// resolving or asking the backend yields the application route instead.
func (r *Router) GenerateURL(ctx context.Context, key string, backend interfaces.BackendID, opts interfaces.URLOptions) string {
	fallback := routeURL(r.routePrefix, key)
	if validatePathKey(key) != nil {
		return fallback
	}

	id := backend
	if id == interfaces.BackendAuto {
		detected, ok := r.Detect(ctx, key)
		if !ok {
			detected, ok = r.locate(ctx, key)
		}
		if !ok {
			r.log.Debug("Document not located, using route URL", slog.String("key", key))
			return fallback
		}
		id = detected
	}

	adapter, ok := r.adapters[id]
	if !ok || !adapter.Available() {
		return fallback
	}

	start := time.Now()
	u, err := adapter.URL(ctx, key, opts)
	r.observe(id, "url", start, err)
	if err != nil || u == "" {
		r.log.Warn("Failed to generate URL, using route URL",
			slog.String("backend", id.String()),
			slog.String("key", key),
			"err", err)
		return fallback
	}
	return u
}

// FileInfo returns metadata for key, detecting then probing for BackendAuto.
func (r *Router) FileInfo(ctx context.Context, key string, backend interfaces.BackendID) (*interfaces.ObjectMetadata, error) {
	if err := validatePathKey(key); err != nil {
		return nil, err
	}

	if backend != interfaces.BackendAuto {
		adapter, err := r.availableAdapter(backend)
		if err != nil {
			return nil, err
		}
		return r.metadata(ctx, adapter, key)
	}

	var attempts []Attempt
	tried := make(map[interfaces.BackendID]bool)
	if id, ok := r.Detect(ctx, key); ok {
		tried[id] = true
		meta, err := r.metadata(ctx, r.adapters[id], key)
		if err == nil {
			return meta, nil
		}
		attempts = append(attempts, Attempt{Backend: id, Err: err})
	}

	for _, id := range r.probeOrder() {
		adapter := r.adapters[id]
		if tried[id] || !adapter.Available() {
			continue
		}
		meta, err := r.metadata(ctx, adapter, key)
		if err == nil {
			return meta, nil
		}
		attempts = append(attempts, Attempt{Backend: id, Err: err})
	}
	return nil, &AttemptsError{Err: interfaces.ErrObjectNotFound, Attempts: attempts}
}

// Migrate copies key from one backend to another, recording provenance in
// the destination metadata. The source copy is kept unless
// opts.CleanupSource is set and the destination copy is verified.
func (r *Router) Migrate(ctx context.Context, key string, from, to interfaces.BackendID, opts MigrateOptions) (bool, error) {
	if err := validatePathKey(key); err != nil {
		return false, err
	}
	if from == interfaces.BackendAuto || to == interfaces.BackendAuto {
		return false, fmt.Errorf("%w: migration needs explicit source and destination", interfaces.ErrUnknownBackend)
	}

	src, err := r.availableAdapter(from)
	if err != nil {
		return false, err
	}
	if from == to {
		if !r.exists(ctx, src, key) {
			return false, interfaces.ErrObjectNotFound
		}
		return true, nil
	}
	dst, err := r.availableAdapter(to)
	if err != nil {
		return false, err
	}

	start := time.Now()
	body, meta, err := r.fetch(ctx, src, key)
	if err != nil {
		r.log.Error("Failed to read document for migration",
			slog.String("from", from.String()),
			slog.String("key", key),
			"err", err)
		return false, err
	}
	payload, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendRead, err)
	}

	newMeta := make(map[string]string, len(meta.Custom)+3)
	for k, v := range meta.Custom {
		newMeta[k] = v
	}
	if meta.ContentType != "" {
		newMeta[interfaces.MetaContentType] = meta.ContentType
	}
	newMeta[interfaces.MetaMigratedFrom] = from.String()
	newMeta[interfaces.MetaMigratedAt] = r.now().UTC().Format(time.RFC3339)

	if _, err := r.store(ctx, dst, payload, key, newMeta); err != nil {
		r.log.Error("Failed to write document during migration",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.String("key", key),
			"err", err)
		return false, err
	}

	r.log.Info("Migrated document",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("key", key),
		slog.Int("size", len(payload)),
		slog.Duration("duration", time.Since(start)))

	if opts.CleanupSource {
		if !r.exists(ctx, dst, key) {
			r.log.Error("Migrated copy not visible at destination, keeping source",
				slog.String("to", to.String()),
				slog.String("key", key))
			return true, nil
		}
		if err := r.delete(ctx, src, key); err != nil {
			r.log.Warn("Failed to remove source copy after migration",
				slog.String("from", from.String()),
				slog.String("key", key),
				"err", err)
		}
	}
	return true, nil
}

// UsageReport aggregates usage across every registered backend. It never fails.
func (r *Router) UsageReport(ctx context.Context) *UsageReport {
	return r.usage.Report(ctx)
}

func (r *Router) availableAdapter(id interfaces.BackendID) (interfaces.StorageAdapter, error) {
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered", interfaces.ErrUnknownBackend, id)
	}
	if !adapter.Available() {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrBackendUnavailable, id)
	}
	return adapter, nil
}

// locate returns the first available backend in probe order that has key.
func (r *Router) locate(ctx context.Context, key string) (interfaces.BackendID, bool) {
	for _, id := range r.probeOrder() {
		adapter := r.adapters[id]
		if adapter.Available() && r.exists(ctx, adapter, key) {
			return id, true
		}
	}
	return interfaces.BackendAuto, false
}

// probeOrder is the priority list followed by the remaining registered backends.
func (r *Router) probeOrder() []interfaces.BackendID {
	order := append([]interfaces.BackendID(nil), r.priority...)
	inPriority := make(map[interfaces.BackendID]bool, len(r.priority))
	for _, id := range r.priority {
		inPriority[id] = true
	}
	for _, id := range interfaces.AllBackends {
		if _, ok := r.adapters[id]; ok && !inPriority[id] {
			order = append(order, id)
		}
	}
	return order
}

// registered returns the adapters in canonical backend order.
func (r *Router) registered() []interfaces.StorageAdapter {
	out := make([]interfaces.StorageAdapter, 0, len(r.adapters))
	for _, id := range interfaces.AllBackends {
		if a, ok := r.adapters[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (r *Router) logStatus() {
	attrs := make([]any, 0, len(r.adapters)+1)
	for _, a := range r.registered() {
		attrs = append(attrs, slog.Bool(a.ID().String(), a.Available()))
	}
	attrs = append(attrs, slog.Any("priority", r.priority))
	r.log.Info("Storage status", attrs...)
}

func (r *Router) uploadResult(id interfaces.BackendID, url, key, contentType string, payload []byte, attempts []Attempt, lastResort bool) *UploadResult {
	return &UploadResult{
		StoredObject: interfaces.StoredObject{
			Key:         key,
			Backend:     id,
			URL:         url,
			SizeBytes:   int64(len(payload)),
			ContentType: contentType,
			CreatedAt:   r.now().UTC(),
		},
		Attempts:   attempts,
		LastResort: lastResort,
	}
}

func (r *Router) store(ctx context.Context, a interfaces.StorageAdapter, payload []byte, key string, meta map[string]string) (string, error) {
	start := time.Now()
	url, err := a.Store(ctx, payload, key, meta)
	r.observe(a.ID(), "store", start, err)
	return url, err
}

func (r *Router) fetch(ctx context.Context, a interfaces.StorageAdapter, key string) (io.ReadCloser, *interfaces.ObjectMetadata, error) {
	start := time.Now()
	body, meta, err := a.Fetch(ctx, key)
	r.observe(a.ID(), "fetch", start, err)
	if err != nil {
		return nil, nil, err
	}
	if meta == nil {
		meta = &interfaces.ObjectMetadata{Key: key, ContentType: MimeTypeFor(key)}
	}
	meta.Backend = a.ID()
	return body, meta, nil
}

func (r *Router) metadata(ctx context.Context, a interfaces.StorageAdapter, key string) (*interfaces.ObjectMetadata, error) {
	start := time.Now()
	meta, err := a.Metadata(ctx, key)
	r.observe(a.ID(), "metadata", start, err)
	if err != nil {
		return nil, err
	}
	meta.Backend = a.ID()
	return meta, nil
}

func (r *Router) exists(ctx context.Context, a interfaces.StorageAdapter, key string) bool {
	start := time.Now()
	ok := a.Exists(ctx, key)
	outcome := metrics.OutcomeSuccess
	if !ok {
		outcome = metrics.OutcomeNotFound
	}
	metrics.ObserveBackendOp(a.ID().String(), "exists", outcome, start)
	return ok
}

func (r *Router) delete(ctx context.Context, a interfaces.StorageAdapter, key string) error {
	start := time.Now()
	err := a.Delete(ctx, key)
	r.observe(a.ID(), "delete", start, err)
	return err
}

func (r *Router) observe(id interfaces.BackendID, op string, start time.Time, err error) {
	metrics.ObserveBackendOp(id.String(), op, outcomeOf(err), start)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, interfaces.ErrObjectNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeError
	}
}
