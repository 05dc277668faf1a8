package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/BadgerOps/portable/internal/catalog"
	"github.com/BadgerOps/portable/internal/config"
	"github.com/BadgerOps/portable/internal/keylock"
	"github.com/BadgerOps/portable/internal/provider"
	"github.com/BadgerOps/portable/internal/safety"
	"github.com/BadgerOps/portable/internal/store"
	"github.com/BadgerOps/portable/internal/validate"
)

// DefaultExpiry is how long a completed artifact stays downloadable.
const DefaultExpiry = 7 * 24 * time.Hour

// Failure messages recorded on exports that did not finish on their own.
const (
	msgInterrupted = "interrupted before completion"
	cancelPrefix   = "cancelled: "
)

var errStageTimeout = errors.New("stage timed out")

// Options configures the export Manager.
type Options struct {
	OutputDir          string
	DownloadBaseURL    string
	DefaultCompression store.Compression
	DefaultSplitSize   int64
	Expiry             time.Duration
	MaxDuration        time.Duration
	StageTimeout       time.Duration
	MaxConcurrent      int
}

// OptionsFromConfig maps the export section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	split, err := cfg.SplitSizeBytes()
	if err != nil {
		return Options{}, err
	}
	return Options{
		OutputDir:          cfg.ExportOutputDir(),
		DownloadBaseURL:    cfg.Export.DownloadBaseURL,
		DefaultCompression: store.Compression(cfg.Export.DefaultCompression),
		DefaultSplitSize:   split,
		Expiry:             cfg.Export.Expiry,
		MaxDuration:        cfg.Export.MaxDuration,
		StageTimeout:       cfg.Export.StageTimeout,
		MaxConcurrent:      cfg.Export.MaxConcurrent,
	}, nil
}

// ExportRequest is the caller's description of an export.
type ExportRequest struct {
	PlatformID      string                    `json:"platform_id" validate:"required"`
	PlatformName    string                    `json:"platform_name" validate:"required"`
	PlatformVersion string                    `json:"platform_version" validate:"required"`
	Format          catalog.Format            `json:"format" validate:"required"`
	TargetProvider  provider.Type             `json:"target_provider" validate:"required"`
	NetworkMode     catalog.NetworkMode       `json:"network_mode" validate:"required"`
	Configuration   store.ExportConfiguration `json:"configuration"`
}

// Manager owns the export pipeline: it validates requests, persists export
// packages and drives each one through its stages in the background.
type Manager struct {
	repo      store.ExportRepository
	providers *provider.Registry
	catalog   *catalog.Catalog
	keyring   *Keyring
	packager  Packager
	encrypter *Encrypter
	executor  *Executor
	notifier  *Notifier
	locks     *keylock.Locker
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a new Manager.
func NewManager(
	repo store.ExportRepository,
	providers *provider.Registry,
	cat *catalog.Catalog,
	keyring *Keyring,
	opts Options,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	if opts.DefaultCompression == "" {
		opts.DefaultCompression = store.CompressionZstd
	}
	return &Manager{
		repo:      repo,
		providers: providers,
		catalog:   cat,
		keyring:   keyring,
		packager:  &ArchivePackager{DefaultCompression: opts.DefaultCompression, Catalog: cat},
		encrypter: NewEncrypter(keyring),
		executor:  NewExecutor(opts.MaxConcurrent, logger),
		notifier:  NewNotifier(),
		locks:     keylock.New(),
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetPackager replaces the default archive packager.
func (m *Manager) SetPackager(p Packager) {
	m.packager = p
}

// Create validates req, stores a pending export and schedules its pipeline.
// It returns as soon as the export is persisted.
func (m *Manager) Create(ctx context.Context, tenantID string, req ExportRequest) (*store.ExportPackage, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, validate.Errorf("tenant_id is required")
	}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if !m.catalog.HasFormat(req.Format) {
		return nil, validate.Errorf("unknown export format %q", req.Format)
	}
	mode, err := catalog.ParseNetworkMode(string(req.NetworkMode))
	if err != nil {
		return nil, validate.Errorf("%v", err)
	}
	target, err := m.providers.Lookup(req.TargetProvider)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", validate.ErrInvalid, err)
	}
	if mode == catalog.NetworkAirGapped && !target.OfflineSupport {
		return nil, validate.Errorf("provider %s does not support air-gapped operation", target.Type)
	}

	cfg := req.Configuration
	if cfg.Compression == "" {
		cfg.Compression = m.opts.DefaultCompression
	}
	if cfg.Encryption == "" {
		cfg.Encryption = store.EncryptionNone
	}
	if cfg.SplitSize == 0 {
		cfg.SplitSize = m.opts.DefaultSplitSize
	}
	if cfg.IncludeSecrets && cfg.Encryption == store.EncryptionNone {
		return nil, validate.Errorf("include_secrets requires encryption")
	}

	security := store.SecurityConfig{
		EncryptionEnabled:  cfg.Encryption != store.EncryptionNone,
		Algorithm:          cfg.Encryption,
		SecretsIncluded:    cfg.IncludeSecrets,
		IntegrityAlgorithm: "sha256",
	}
	if security.EncryptionEnabled {
		fp, err := m.keyring.Fingerprint()
		if err != nil {
			return nil, fmt.Errorf("%w: encryption %s requested: %w", validate.ErrInvalid, cfg.Encryption, err)
		}
		security.KeyID = fp
	}

	components, err := m.catalog.ComponentsFor(req.Format)
	if err != nil {
		return nil, validate.Errorf("%v", err)
	}
	deps, err := m.catalog.DependenciesFor(req.Format, mode)
	if err != nil {
		return nil, validate.Errorf("%v", err)
	}

	now := m.now()
	exp := &store.ExportPackage{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		PlatformID:      req.PlatformID,
		PlatformName:    req.PlatformName,
		PlatformVersion: req.PlatformVersion,
		Format:          req.Format,
		TargetProvider:  target.Type,
		NetworkMode:     mode,
		Components:      components,
		Dependencies:    deps,
		Configuration:   cfg,
		Security:        security,
		Status:          store.ExportPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		History:         []store.StatusChange{{Status: store.ExportPending, At: now}},
	}

	if err := m.repo.CreateExport(ctx, exp); err != nil {
		return nil, fmt.Errorf("storing export: %w", err)
	}
	exportsCreated.WithLabelValues(string(exp.Format)).Inc()

	id := exp.ID
	if err := m.executor.Submit(id, func(ctx context.Context) { m.run(ctx, id) }); err != nil {
		_, _, _ = m.markFailed(ctx, id, "scheduling failed: "+err.Error())
		return nil, fmt.Errorf("scheduling export: %w", err)
	}

	m.logger.Info("export created",
		"id", id,
		"tenant", tenantID,
		"format", exp.Format,
		"provider", exp.TargetProvider,
		"network_mode", exp.NetworkMode,
		"encryption", cfg.Encryption,
	)
	return exp, nil
}

// Get returns an export by ID.
func (m *Manager) Get(ctx context.Context, id string) (*store.ExportPackage, error) {
	return m.repo.GetExport(ctx, id)
}

// List returns a tenant's exports, newest first.
func (m *Manager) List(ctx context.Context, tenantID string) ([]*store.ExportPackage, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, validate.Errorf("tenant_id is required")
	}
	return m.repo.ListExports(ctx, tenantID)
}

// Cancel marks a non-terminal export failed with the given reason and stops
// its background task.
func (m *Manager) Cancel(ctx context.Context, id, reason string) (*store.ExportPackage, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "requested by caller"
	}
	exp, changed, err := m.markFailed(ctx, id, cancelPrefix+reason)
	if err != nil {
		return nil, err
	}
	if !changed {
		return exp, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, exp.Status)
	}
	m.executor.Cancel(id)
	m.logger.Info("export cancelled", "id", id, "reason", reason)
	return exp, nil
}

// Wait blocks until the export reaches a terminal status or ctx ends.
// Only changes made by this Manager wake it.
func (m *Manager) Wait(ctx context.Context, id string) (*store.ExportPackage, error) {
	for {
		ch := m.notifier.Wait()
		exp, err := m.repo.GetExport(ctx, id)
		if err != nil {
			return nil, err
		}
		if exp.Status.Terminal() {
			return exp, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return exp, ctx.Err()
		}
	}
}

// Recover fails exports left non-terminal by a previous process. It returns
// the number of exports it marked failed.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	all, err := m.repo.ListExports(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("listing exports: %w", err)
	}
	recovered := 0
	for _, exp := range all {
		if exp.Status.Terminal() || m.executor.Running(exp.ID) {
			continue
		}
		_, changed, err := m.markFailed(ctx, exp.ID, msgInterrupted)
		if err != nil {
			return recovered, err
		}
		if changed {
			recovered++
			m.logger.Warn("recovered interrupted export", "id", exp.ID, "status", exp.Status)
		}
	}
	return recovered, nil
}

// Shutdown cancels in-flight pipelines and waits for them to record their
// outcome.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.executor.Shutdown(ctx)
}

// ============================================================================
// Pipeline
// ============================================================================

// run drives one export from pending to a terminal status.
func (m *Manager) run(ctx context.Context, id string) {
	exportsInFlight.Inc()
	defer exportsInFlight.Dec()

	if m.opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.MaxDuration)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		if _, changed, ferr := m.markFailed(context.WithoutCancel(ctx), id, m.failureMessage(ctx, err)); ferr != nil {
			m.logger.Error("failed to record export failure", "id", id, "error", ferr)
		} else if changed {
			m.logger.Warn("export never started", "id", id)
		}
		return
	}

	var (
		dir        string
		parts      []store.ArtifactPart
		encryption store.EncryptionAlgorithm
	)

	err := m.stage(ctx, id, store.ExportPreparing, nil, func(ctx context.Context, exp *store.ExportPackage) error {
		d, err := safety.SafeJoinUnder(m.opts.OutputDir, exp.ID)
		if err != nil {
			return fmt.Errorf("resolving output directory: %w", err)
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		dir = d
		encryption = exp.Configuration.Encryption

		if exp.Security.EncryptionEnabled {
			fp, err := m.keyring.Fingerprint()
			if err != nil {
				return err
			}
			if fp != exp.Security.KeyID {
				return fmt.Errorf("encryption key changed since export was created (have %s, want %s)", fp, exp.Security.KeyID)
			}
		}
		return nil
	})

	if err == nil {
		err = m.stage(ctx, id, store.ExportPackaging,
			func(exp *store.ExportPackage) {
				exp.Size = catalog.TotalSize(exp.Components, exp.Dependencies)
			},
			func(ctx context.Context, exp *store.ExportPackage) error {
				p, err := m.packager.Package(ctx, exp, dir)
				if err != nil {
					return err
				}
				if len(p) == 0 {
					return fmt.Errorf("packager produced no artifact")
				}
				parts = p
				return nil
			})
	}

	if err == nil && encryption != store.EncryptionNone {
		err = m.stage(ctx, id, store.ExportEncrypting, nil, func(ctx context.Context, exp *store.ExportPackage) error {
			p, err := m.encrypter.EncryptParts(ctx, encryption, dir, parts)
			if err != nil {
				return err
			}
			parts = p
			return nil
		})
	}

	if err == nil {
		err = m.finalize(ctx, id, dir, parts)
	}

	if err != nil {
		if dir != "" {
			_ = os.RemoveAll(dir)
		}
		if errors.Is(err, errStopped) {
			return
		}
		msg := m.failureMessage(ctx, err)
		if _, changed, ferr := m.markFailed(context.WithoutCancel(ctx), id, msg); ferr != nil {
			m.logger.Error("failed to record export failure", "id", id, "error", ferr)
		} else if changed {
			m.logger.Warn("export failed", "id", id, "error", msg)
		}
	}
}

// stage moves the export into status (applying enter to the record first),
// then runs work under the per-stage timeout.
func (m *Manager) stage(
	ctx context.Context,
	id string,
	status store.ExportStatus,
	enter func(*store.ExportPackage),
	work func(ctx context.Context, exp *store.ExportPackage) error,
) error {
	exp, err := m.transition(ctx, id, status, enter)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		stageDuration.WithLabelValues(string(status)).Observe(time.Since(start).Seconds())
	}()

	sctx := ctx
	if m.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, m.opts.StageTimeout)
		defer cancel()
	}

	if err := work(sctx, exp); err != nil {
		if ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", errStageTimeout, status, m.opts.StageTimeout)
		}
		return fmt.Errorf("%s failed: %w", status, err)
	}
	return nil
}

// finalize computes the artifact checksum and completes the export.
func (m *Manager) finalize(ctx context.Context, id, dir string, parts []store.ArtifactPart) error {
	checksum, err := artifactChecksum(dir, parts)
	if err != nil {
		return fmt.Errorf("computing checksum: %w", err)
	}
	downloadURL := m.downloadURL(id, dir)

	var total int64
	for _, p := range parts {
		total += p.Size
	}

	exp, err := m.transition(ctx, id, store.ExportCompleted, func(exp *store.ExportPackage) {
		now := m.now()
		if now.Before(exp.UpdatedAt) {
			now = exp.UpdatedAt
		}
		expires := now.Add(m.opts.Expiry)
		exp.Checksum = checksum
		exp.DownloadURL = downloadURL
		exp.CompletedAt = &now
		exp.ExpiresAt = &expires
		exp.Artifact = &store.Artifact{Dir: dir, Parts: parts}
	})
	if err != nil {
		return err
	}

	exportsFinished.WithLabelValues(string(store.ExportCompleted)).Inc()
	artifactBytes.Add(float64(total))
	m.logger.Info("export completed",
		"id", id,
		"parts", len(parts),
		"artifact_size", humanize.IBytes(uint64(total)),
		"checksum", exp.Checksum,
	)
	return nil
}

// transition applies one forward status change under the export's lock.
// It returns errStopped if the export already reached a terminal status.
func (m *Manager) transition(ctx context.Context, id string, to store.ExportStatus, mutate func(*store.ExportPackage)) (*store.ExportPackage, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	exp, err := m.repo.GetExport(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading export: %w", err)
	}
	if exp.Status.Terminal() {
		return nil, errStopped
	}
	if !CanTransition(exp.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, exp.Status, to)
	}

	if mutate != nil {
		mutate(exp)
	}
	m.stamp(exp, to, "")

	if err := m.repo.UpdateExport(ctx, exp); err != nil {
		return nil, fmt.Errorf("saving export: %w", err)
	}
	m.notifier.Signal()
	m.logger.Debug("export stage", "id", id, "status", to)
	return exp, nil
}

// markFailed moves a non-terminal export to failed. changed is false when
// the export was already terminal.
func (m *Manager) markFailed(ctx context.Context, id, msg string) (exp *store.ExportPackage, changed bool, err error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	exp, err = m.repo.GetExport(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if exp.Status.Terminal() {
		return exp, false, nil
	}

	exp.Error = msg
	exp.Checksum = ""
	exp.DownloadURL = ""
	exp.ExpiresAt = nil
	exp.Artifact = nil
	m.stamp(exp, store.ExportFailed, msg)

	if err := m.repo.UpdateExport(ctx, exp); err != nil {
		return nil, false, fmt.Errorf("saving export: %w", err)
	}
	exportsFinished.WithLabelValues(string(store.ExportFailed)).Inc()
	m.notifier.Signal()
	return exp, true, nil
}

// stamp sets the status and appends it to the history with a timestamp that
// never goes backwards.
func (m *Manager) stamp(exp *store.ExportPackage, to store.ExportStatus, note string) {
	now := m.now()
	if now.Before(exp.UpdatedAt) {
		now = exp.UpdatedAt
	}
	exp.Status = to
	exp.UpdatedAt = now
	exp.History = append(exp.History, store.StatusChange{Status: to, At: now, Note: note})
}

func (m *Manager) failureMessage(ctx context.Context, err error) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("export exceeded maximum duration of %s", m.opts.MaxDuration)
	case errors.Is(ctx.Err(), context.Canceled):
		return msgInterrupted
	default:
		return err.Error()
	}
}

func (m *Manager) downloadURL(id, dir string) string {
	if m.opts.DownloadBaseURL != "" {
		if u, err := url.JoinPath(m.opts.DownloadBaseURL, id); err == nil {
			return u + "/"
		}
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dir)}).String()
}
