package job

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/docgen-gateway/internal/apperrors"
	"github.com/JakeFAU/docgen-gateway/internal/artifact"
	"github.com/JakeFAU/docgen-gateway/internal/lock"
	"github.com/JakeFAU/docgen-gateway/internal/logging"
	"github.com/JakeFAU/docgen-gateway/internal/metrics"
	"github.com/JakeFAU/docgen-gateway/internal/staging"
)

// Messages returned to callers for application-level failures.
const (
	MsgWorkerFailed     = "worker execution failed"
	MsgNoOutput         = "no generated output file found"
	MsgUnsupportedInput = "unsupported file type"
)

// Outcome labels used for metrics.
const (
	outcomeCompleted = "completed"
	outcomeWorker    = "worker_failed"
	outcomeNoOutput  = "no_output"
	outcomeInfra     = "error"
	outcomeRejected  = "rejected"
)

const tracerName = "github.com/JakeFAU/docgen-gateway/internal/job"

// finishTimeout bounds the best-effort work done after a job ends.
const finishTimeout = 30 * time.Second

// Config tunes the Service.
type Config struct {
	OutputDir      string
	DownloadPrefix string
	// Strict rejects extensions outside AllowedExtensions; otherwise they
	// are accepted with a warning.
	Strict            bool
	AllowedExtensions []string
	CleanupStaged     bool
	Topic             string
	BlobPrefix        string
	ContentType       string
}

// Service runs jobs. It holds no per-job state; every call to Process is
// independent apart from the output directory lock.
type Service struct {
	cfg       Config
	stager    Stager
	invoker   Invoker
	resolver  Resolver
	snapshot  Snapshotter
	locker    lock.Locker
	clock     Clock
	blobs     BlobStore
	publisher Publisher
	audit     AuditStore
	logger    *zap.Logger
}

// Option customizes optional collaborators of a Service.
type Option func(*Service)

// WithBlobStore mirrors completed artifacts into store.
func WithBlobStore(store BlobStore) Option {
	return func(s *Service) { s.blobs = store }
}

// WithPublisher announces finished jobs on cfg.Topic.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithAuditStore records every finished job.
func WithAuditStore(a AuditStore) Option {
	return func(s *Service) { s.audit = a }
}

// WithSnapshotter replaces artifact.Take.
func WithSnapshotter(fn Snapshotter) Option {
	return func(s *Service) { s.snapshot = fn }
}

// NewService wires the required collaborators.
func NewService(
	cfg Config,
	stager Stager,
	inv Invoker,
	resolver Resolver,
	locker lock.Locker,
	clock Clock,
	logger *zap.Logger,
	opts ...Option,
) (*Service, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if stager == nil || inv == nil || resolver == nil || clock == nil {
		return nil, fmt.Errorf("stager, invoker, resolver and clock are required")
	}
	if locker == nil {
		locker = lock.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.DownloadPrefix = strings.TrimRight(cfg.DownloadPrefix, "/")
	s := &Service{
		cfg:      cfg,
		stager:   stager,
		invoker:  inv,
		resolver: resolver,
		snapshot: artifact.Take,
		locker:   locker,
		clock:    clock,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OutputDir returns the shared output directory.
func (s *Service) OutputDir() string {
	return s.cfg.OutputDir
}

// DownloadURL returns the path under which name can be fetched.
func (s *Service) DownloadURL(name string) string {
	return s.cfg.DownloadPrefix + "/" + url.PathEscape(name)
}

// Validate applies the extension policy to an upload name before anything
// touches the disk.
func (s *Service) Validate(filename string) error {
	ext := staging.Extension(filename)
	if len(s.cfg.AllowedExtensions) == 0 || slices.ContainsFunc(s.cfg.AllowedExtensions, func(a string) bool {
		return strings.EqualFold(a, ext)
	}) {
		return nil
	}
	if s.cfg.Strict {
		return apperrors.Validation("file", MsgUnsupportedInput)
	}
	s.logger.Warn("accepting upload with unexpected extension",
		zap.String("filename", filename),
		zap.String("extension", ext),
		zap.Strings("expected", s.cfg.AllowedExtensions),
	)
	return nil
}

// Process runs one job to completion. Application failures (the worker
// exits non-zero or produces nothing recognizable) come back as a Result
// with Success false and a nil error. A non-nil error is either a
// validation error or an infrastructure failure.
func (s *Service) Process(ctx context.Context, upload Upload) (Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "job.process",
		trace.WithAttributes(attribute.String("job.filename", upload.Filename)))
	defer span.End()

	res, err := s.process(ctx, upload)
	span.SetAttributes(
		attribute.String("job.id", res.Job.ID),
		attribute.String("job.state", string(res.Job.State)),
	)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, apperrors.PublicMessage(err))
	case !res.Success:
		span.SetStatus(codes.Error, res.Error)
	default:
		span.SetAttributes(attribute.String("job.artifact", res.Filename))
	}
	return res, err
}

func (s *Service) process(ctx context.Context, upload Upload) (Result, error) {
	j := &Job{
		OriginalName: upload.Filename,
		State:        StateReceived,
		StartedAt:    s.clock.Now(),
	}

	if err := s.Validate(upload.Filename); err != nil {
		metrics.ObserveJob(outcomeRejected)
		return Result{Job: *j}, err
	}

	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	staged, err := s.stager.Stage(ctx, upload.Filename, upload.Content)
	if err != nil {
		s.failInfra(j, err)
		return Result{Job: *j}, err
	}
	j.ID = staged.ID
	j.Extension = staged.Extension
	j.InputPath = staged.Path
	j.InputSHA256 = staged.SHA256
	j.InputSize = staged.Size
	if err := j.advance(StateStaged); err != nil {
		return Result{Job: *j}, apperrors.Internal("job.advance", err)
	}

	logger := s.logger.With(zap.String("job_id", j.ID), zap.String("filename", j.OriginalName))
	logger.Info("upload staged", zap.String("path", j.InputPath), zap.Int64("bytes", j.InputSize))

	defer s.finish(ctx, j, logger)
	if s.cfg.CleanupStaged {
		defer func() {
			if err := s.stager.Remove(j.InputPath); err != nil {
				logger.Warn("staged input cleanup failed", zap.Error(err))
			}
		}()
	}

	res, err := s.run(ctx, j, logger)
	if err != nil {
		s.failInfra(j, err)
		logger.Error("job failed", zap.String("state", string(j.State)), zap.Error(err))
		return Result{Job: *j}, err
	}
	res.Job = *j
	return res, nil
}

// run covers staged → completed|failed while holding the output lock.
func (s *Service) run(ctx context.Context, j *Job, logger *zap.Logger) (Result, error) {
	waitStart := time.Now()
	release, err := s.locker.Lock(ctx, s.cfg.OutputDir)
	if err != nil {
		return Result{}, apperrors.Internal("job.lock", err)
	}
	metrics.ObserveLockWait(time.Since(waitStart))
	defer func() {
		if err := release(); err != nil {
			logger.Warn("output lock release failed", zap.Error(err))
		}
	}()

	// The before listing must exist before the worker can write anything.
	before, err := s.snapshot(s.cfg.OutputDir)
	if err != nil {
		return Result{}, apperrors.Internal("job.snapshot_before", err)
	}
	if err := j.advance(StateSnapshotted); err != nil {
		return Result{}, apperrors.Internal("job.advance", err)
	}

	logger.Info("starting worker", zap.String("input", j.InputPath), zap.Int("existing_outputs", before.Len()))
	trace.SpanFromContext(ctx).AddEvent("worker.start")
	out, err := s.invoker.Run(ctx, j.InputPath)
	trace.SpanFromContext(ctx).AddEvent("worker.exit", trace.WithAttributes(attribute.Int("exit_code", out.ExitCode)))
	j.ExitCode = out.ExitCode
	j.Stdout = out.Stdout
	j.Stderr = out.Stderr
	j.WorkerTime = out.Duration
	if err != nil {
		return Result{}, err
	}
	metrics.ObserveWorker(out.ExitCode, out.Duration)
	if err := j.advance(StateInvoked); err != nil {
		return Result{}, apperrors.Internal("job.advance", err)
	}
	if out.Stdout != "" {
		logger.Debug("worker stdout", logging.Output("stdout", out.Stdout))
	}

	if !out.Success() {
		logger.Error("worker exited non-zero",
			zap.Int("exit_code", out.ExitCode),
			logging.Output("stderr", out.Stderr),
		)
		s.failApp(j, MsgWorkerFailed, outcomeWorker)
		return Result{
			Error:  MsgWorkerFailed,
			Stdout: ptr(out.Stdout),
			Stderr: ptr(out.Stderr),
		}, nil
	}

	after, err := s.snapshot(s.cfg.OutputDir)
	if err != nil {
		return Result{}, apperrors.Internal("job.snapshot_after", err)
	}
	resolution, err := s.resolver.Resolve(s.cfg.OutputDir, before, after)
	if err != nil {
		return Result{}, apperrors.Internal("job.resolve", err)
	}
	metrics.ObserveResolve(string(resolution.Match))

	if !resolution.Found() {
		logger.Error("no artifact produced", zap.Strings("new_files", resolution.NewFiles))
		s.failApp(j, MsgNoOutput, outcomeNoOutput)
		return Result{
			Error:  MsgNoOutput,
			Stdout: ptr(out.Stdout),
		}, nil
	}

	if resolution.Match == artifact.MatchRelaxed {
		logger.Warn("artifact matched by extension only",
			zap.String("artifact", resolution.Name),
			zap.Strings("new_files", resolution.NewFiles),
		)
	}
	j.Artifact = resolution.Name
	j.Match = resolution.Match
	if err := j.advance(StateCompleted); err != nil {
		return Result{}, apperrors.Internal("job.advance", err)
	}
	j.FinishedAt = s.clock.Now()
	metrics.ObserveJob(outcomeCompleted)
	logger.Info("artifact resolved",
		zap.String("artifact", j.Artifact),
		zap.String("match", string(j.Match)),
		zap.Duration("worker_time", j.WorkerTime),
	)
	return Result{
		Success:     true,
		Filename:    j.Artifact,
		DownloadURL: s.DownloadURL(j.Artifact),
	}, nil
}

func (s *Service) failApp(j *Job, msg, outcome string) {
	_ = j.advance(StateFailed)
	j.Error = msg
	j.FinishedAt = s.clock.Now()
	metrics.ObserveJob(outcome)
}

func (s *Service) failInfra(j *Job, err error) {
	_ = j.advance(StateFailed)
	j.Error = err.Error()
	j.FinishedAt = s.clock.Now()
	metrics.ObserveJob(outcomeInfra)
}

// finish mirrors, announces and records the job. None of it can change the
// caller's result, so failures are only logged.
func (s *Service) finish(ctx context.Context, j *Job, logger *zap.Logger) {
	if s.blobs == nil && s.publisher == nil && s.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if s.blobs != nil && j.State == StateCompleted {
		uri, err := s.mirror(ctx, j)
		if err != nil {
			logger.Warn("artifact mirror failed", zap.Error(err))
		} else {
			j.ArtifactURI = uri
			logger.Debug("artifact mirrored", zap.String("uri", uri))
		}
	}
	rec := j.Record()
	if s.publisher != nil && s.cfg.Topic != "" {
		if _, err := s.publisher.Publish(ctx, s.cfg.Topic, rec); err != nil {
			logger.Warn("job event publish failed", zap.Error(err))
		}
	}
	if s.audit != nil {
		if err := s.audit.RecordJob(ctx, rec); err != nil {
			logger.Warn("job audit write failed", zap.Error(err))
		}
	}
}

func (s *Service) mirror(ctx context.Context, j *Job) (string, error) {
	// #nosec G304 -- the name came from a listing of the output directory.
	f, err := os.Open(filepath.Join(s.cfg.OutputDir, j.Artifact))
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			s.logger.Debug("close artifact", zap.Error(cerr))
		}
	}()
	key := path.Join(s.cfg.BlobPrefix, j.ID, j.Artifact)
	uri, err := s.blobs.PutObject(ctx, key, s.cfg.ContentType, f)
	if err != nil {
		return "", fmt.Errorf("put artifact: %w", err)
	}
	return uri, nil
}

func ptr(s string) *string {
	return &s
}
