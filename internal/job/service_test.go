package job_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docgen-gateway/internal/apperrors"
	"github.com/JakeFAU/docgen-gateway/internal/artifact"
	"github.com/JakeFAU/docgen-gateway/internal/id/uuid"
	"github.com/JakeFAU/docgen-gateway/internal/invoker"
	"github.com/JakeFAU/docgen-gateway/internal/job"
	"github.com/JakeFAU/docgen-gateway/internal/lock"
	"github.com/JakeFAU/docgen-gateway/internal/staging"
)

type invokerFunc func(ctx context.Context, input string) (invoker.Result, error)

func (f invokerFunc) Run(ctx context.Context, input string) (invoker.Result, error) {
	return f(ctx, input)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingBlobs struct {
	mu   sync.Mutex
	keys []string
	body []string
}

func (r *recordingBlobs) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, path)
	r.body = append(r.body, string(b))
	return "mem://" + path, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.events = append(r.events, payload)
	return "msg-1", nil
}

type recordingAudit struct {
	mu      sync.Mutex
	records []job.Record
	err     error
}

func (r *recordingAudit) RecordJob(_ context.Context, rec job.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

type fixture struct {
	uploadDir string
	outputDir string
	blobs     *recordingBlobs
	publisher *recordingPublisher
	audit     *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		uploadDir: filepath.Join(root, "temp_uploads"),
		outputDir: filepath.Join(root, "output"),
		blobs:     &recordingBlobs{},
		publisher: &recordingPublisher{},
		audit:     &recordingAudit{},
	}
	require.NoError(t, os.MkdirAll(f.outputDir, 0o750))
	return f
}

func (f *fixture) config() job.Config {
	return job.Config{
		OutputDir:         f.outputDir,
		DownloadPrefix:    "/download/",
		Strict:            true,
		AllowedExtensions: []string{".xlsx", ".xls", ".pdf"},
		CleanupStaged:     true,
		Topic:             "job.finished",
		BlobPrefix:        "artifacts",
		ContentType:       "application/octet-stream",
	}
}

func (f *fixture) service(t *testing.T, cfg job.Config, inv job.Invoker) *job.Service {
	t.Helper()
	stager, err := staging.New(f.uploadDir, uuid.NewUUIDGenerator())
	require.NoError(t, err)
	svc, err := job.NewService(
		cfg,
		stager,
		inv,
		artifact.NewResolver("SOP_", ".xlsx"),
		lock.NewLocal(),
		fixedClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		nil,
		job.WithBlobStore(f.blobs),
		job.WithPublisher(f.publisher),
		job.WithAuditStore(f.audit),
	)
	require.NoError(t, err)
	return svc
}

func (f *fixture) writeOutput(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.outputDir, name), []byte(body), 0o600))
}

func upload(name, body string) job.Upload {
	return job.Upload{Filename: name, Content: strings.NewReader(body)}
}

func stagedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestProcessCompleted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.writeOutput(t, "SOP_old.xlsx", "stale")

	var seenInput string
	svc := f.service(t, f.config(), invokerFunc(func(_ context.Context, input string) (invoker.Result, error) {
		seenInput = input
		data, err := os.ReadFile(input)
		if err != nil {
			return invoker.Result{}, err
		}
		f.writeOutput(t, "SOP_new.xlsx", "generated from "+string(data))
		f.writeOutput(t, "debug.log", "noise")
		return invoker.Result{ExitCode: 0, Stdout: "done\n", Duration: time.Second}, nil
	}))

	res, err := svc.Process(context.Background(), upload("orders.XLSX", "rows"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "SOP_new.xlsx", res.Filename)
	assert.Equal(t, "/download/SOP_new.xlsx", res.DownloadURL)
	assert.Empty(t, res.Error)
	assert.Nil(t, res.Stdout)
	assert.Nil(t, res.Stderr)

	assert.Equal(t, job.StateCompleted, res.Job.State)
	assert.Equal(t, artifact.MatchPattern, res.Job.Match)
	assert.Equal(t, ".xlsx", res.Job.Extension)
	assert.Equal(t, filepath.Join(f.uploadDir, res.Job.ID+".xlsx"), seenInput)
	assert.NotEmpty(t, res.Job.InputSHA256)

	// staged input is gone
	assert.Empty(t, stagedFiles(t, f.uploadDir))

	require.Len(t, f.blobs.keys, 1)
	assert.Equal(t, "artifacts/"+res.Job.ID+"/SOP_new.xlsx", f.blobs.keys[0])
	assert.Equal(t, "generated from rows", f.blobs.body[0])

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "job.finished", f.publisher.topics[0])
	rec, ok := f.publisher.events[0].(job.Record)
	require.True(t, ok)
	assert.Equal(t, job.StateCompleted, rec.State)
	assert.Equal(t, "mem://artifacts/"+res.Job.ID+"/SOP_new.xlsx", rec.ArtifactURI)
	assert.Equal(t, int64(1000), rec.WorkerMillis)

	require.Len(t, f.audit.records, 1)
	assert.Equal(t, res.Job.ID, f.audit.records[0].JobID)
}

func TestProcessWorkerFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	svc := f.service(t, f.config(), invokerFunc(func(context.Context, string) (invoker.Result, error) {
		// Output produced by a failed run is never offered for download.
		f.writeOutput(t, "SOP_partial.xlsx", "half")
		return invoker.Result{ExitCode: 2, Stdout: "", Stderr: "Traceback: boom"}, nil
	}))

	res, err := svc.Process(context.Background(), upload("in.pdf", "%PDF"))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, job.MsgWorkerFailed, res.Error)
	assert.Empty(t, res.Filename)
	assert.Empty(t, res.DownloadURL)
	require.NotNil(t, res.Stdout)
	require.NotNil(t, res.Stderr)
	assert.Empty(t, *res.Stdout)
	assert.Equal(t, "Traceback: boom", *res.Stderr)
	assert.Equal(t, job.StateFailed, res.Job.State)
	assert.Equal(t, 2, res.Job.ExitCode)
	assert.Empty(t, stagedFiles(t, f.uploadDir))
	assert.Empty(t, f.blobs.keys)
	require.Len(t, f.audit.records, 1)
	assert.Equal(t, job.StateFailed, f.audit.records[0].State)
}

func TestProcessNoOutput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.writeOutput(t, "SOP_existing.xlsx", "from an earlier run")

	svc := f.service(t, f.config(), invokerFunc(func(context.Context, string) (invoker.Result, error) {
		f.writeOutput(t, "notes.txt", "not a workbook")
		return invoker.Result{ExitCode: 0, Stdout: "nothing to do", Stderr: "warning"}, nil
	}))

	res, err := svc.Process(context.Background(), upload("in.xls", "x"))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, job.MsgNoOutput, res.Error)
	require.NotNil(t, res.Stdout)
	assert.Equal(t, "nothing to do", *res.Stdout)
	assert.Nil(t, res.Stderr)
	assert.Equal(t, job.StateFailed, res.Job.State)
}

func TestProcessExtensionFallback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	svc := f.service(t, f.config(), invokerFunc(func(context.Context, string) (invoker.Result, error) {
		f.writeOutput(t, "報告 1.xlsx", "x")
		return invoker.Result{}, nil
	}))

	res, err := svc.Process(context.Background(), upload("in.xlsx", "x"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "報告 1.xlsx", res.Filename)
	assert.Equal(t, "/download/%E5%A0%B1%E5%91%8A%201.xlsx", res.DownloadURL)
	assert.Equal(t, artifact.MatchRelaxed, res.Job.Match)
}

func TestProcessStrictRejectsBeforeStaging(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	called := false
	svc := f.service(t, f.config(), invokerFunc(func(context.Context, string) (invoker.Result, error) {
		called = true
		return invoker.Result{}, nil
	}))

	for _, name := range []string{"letter.docx", ".pdf", "README"} {
		_, err := svc.Process(context.Background(), upload(name, "x"))
		require.Error(t, err, name)
		assert.ErrorIs(t, err, apperrors.ErrValidation, name)
		assert.Equal(t, job.MsgUnsupportedInput, apperrors.PublicMessage(err), name)
	}
	assert.False(t, called)
	assert.Empty(t, stagedFiles(t, f.uploadDir))
	assert.Empty(t, f.audit.records)
}

func TestProcessLenientAcceptsUnknownExtension(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	cfg := f.config()
	cfg.Strict = false

	svc := f.service(t, cfg, invokerFunc(func(context.Context, string) (invoker.Result, error) {
		f.writeOutput(t, "SOP_letter.xlsx", "x")
		return invoker.Result{}, nil
	}))

	res, err := svc.Process(context.Background(), upload("letter.docx", "x"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, ".docx", res.Job.Extension)
}

func TestProcessInfrastructureError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	svc := f.service(t, f.config(), invokerFunc(func(context.Context, string) (invoker.Result, error) {
		return invoker.Result{ExitCode: -1}, apperrors.Internal("invoker.launch", invoker.ErrLaunch)
	}))

	res, err := svc.Process(context.Background(), upload("in.xlsx", "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInternal)
	assert.ErrorIs(t, err, invoker.ErrLaunch)
	assert.Equal(t, job.StateFailed, res.Job.State)
	assert.Empty(t, stagedFiles(t, f.uploadDir))
	require.Len(t, f.audit.records, 1)
	assert.NotEmpty(t, f.audit.records[0].Error)
}

func TestProcessKeepsStagedInputWhenCleanupDisabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	cfg := f.config()
	cfg.CleanupStaged = false

	svc := f.service(t, cfg, invokerFunc(func(context.Context, string) (invoker.Result, error) {
		return invoker.Result{ExitCode: 1}, nil
	}))

	res, err := svc.Process(context.Background(), upload("in.pdf", "x"))
	require.NoError(t, err)
	assert.Equal(t, []string{res.Job.ID + ".pdf"}, stagedFiles(t, f.uploadDir))
}

func TestProcessAuditFailureDoesNotChangeResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.audit.err = errors.New("db down")

	svc := f.service(t, f.config(), invokerFunc(func(context.Context, string) (invoker.Result, error) {
		f.writeOutput(t, "SOP_a.xlsx", "x")
		return invoker.Result{}, nil
	}))

	res, err := svc.Process(context.Background(), upload("in.xlsx", "x"))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestProcessWaitsForOutputLock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	locker := lock.NewLocal()
	release, err := locker.Lock(context.Background(), f.outputDir)
	require.NoError(t, err)
	defer func() { _ = release() }()

	stager, err := staging.New(f.uploadDir, uuid.NewUUIDGenerator())
	require.NoError(t, err)
	called := false
	svc, err := job.NewService(f.config(), stager,
		invokerFunc(func(context.Context, string) (invoker.Result, error) {
			called = true
			return invoker.Result{}, nil
		}),
		artifact.NewResolver("SOP_", ".xlsx"), locker, fixedClock{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.Process(ctx, upload("in.xlsx", "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
	assert.Empty(t, stagedFiles(t, f.uploadDir))
}

func TestProcessWithShellWorker(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	script := `cp "$1" "$OUT/SOP_$(basename "$1" .pdf).xlsx"; echo generated`
	runner, err := invoker.New(invoker.Config{
		Command: "/bin/sh",
		Args:    []string{"-c", script, "worker"},
		Env:     []string{"OUT=" + f.outputDir},
	})
	require.NoError(t, err)

	svc := f.service(t, f.config(), runner)
	res, err := svc.Process(context.Background(), upload("input.pdf", "payload"))
	require.NoError(t, err)

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, "SOP_"+res.Job.ID+".xlsx", res.Filename)
	assert.Equal(t, "generated\n", res.Job.Stdout)
	data, err := os.ReadFile(filepath.Join(f.outputDir, res.Filename))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := job.NewService(job.Config{}, nil, nil, nil, nil, nil, nil)
	require.Error(t, err)

	_, err = job.NewService(job.Config{OutputDir: "/tmp"}, nil, nil, nil, nil, nil, nil)
	require.Error(t, err)
}
