// Package job mediates one upload-to-artifact cycle: stage the input, run
// the worker, work out which file it produced and report the outcome.
package job

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/JakeFAU/docgen-gateway/internal/artifact"
	"github.com/JakeFAU/docgen-gateway/internal/invoker"
	"github.com/JakeFAU/docgen-gateway/internal/staging"
)

// State is a step of the per-request job lifecycle.
type State string

// Job states. The machine only moves forward:
// received → staged → snapshotted → invoked → completed, with failed
// reachable from every non-terminal state.
const (
	StateReceived    State = "received"
	StateStaged      State = "staged"
	StateSnapshotted State = "snapshotted"
	StateInvoked     State = "invoked"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

var transitions = map[State]State{
	StateReceived:    StateStaged,
	StateStaged:      StateSnapshotted,
	StateSnapshotted: StateInvoked,
	StateInvoked:     StateCompleted,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is the request-scoped record of one cycle. It is never shared
// between requests.
type Job struct {
	ID           string
	OriginalName string
	Extension    string
	InputPath    string
	InputSHA256  string
	InputSize    int64
	State        State
	ExitCode     int
	Stdout       string
	Stderr       string
	Artifact     string
	Match        artifact.Match
	ArtifactURI  string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
	WorkerTime   time.Duration
}

// advance moves the job to the next state, refusing anything the lifecycle
// does not allow.
func (j *Job) advance(to State) error {
	if j.State.Terminal() {
		return fmt.Errorf("job %s already %s", j.ID, j.State)
	}
	if to == StateFailed || transitions[j.State] == to {
		j.State = to
		return nil
	}
	return fmt.Errorf("illegal job transition %s -> %s", j.State, to)
}

// Upload is the inbound document.
type Upload struct {
	Filename string
	Content  io.Reader
}

// Result is the JSON body returned to the caller. Pointer fields are
// present (possibly empty) exactly when the outcome calls for them.
type Result struct {
	Success     bool    `json:"success"`
	Filename    string  `json:"filename,omitempty"`
	DownloadURL string  `json:"download_url,omitempty"`
	Error       string  `json:"error,omitempty"`
	Stdout      *string `json:"stdout,omitempty"`
	Stderr      *string `json:"stderr,omitempty"`

	Job Job `json:"-"`
}

// Stager persists uploads.
type Stager interface {
	Stage(ctx context.Context, originalName string, content io.Reader) (staging.Staged, error)
	Remove(path string) error
}

// Invoker runs the worker.
type Invoker interface {
	Run(ctx context.Context, inputPath string) (invoker.Result, error)
}

// Resolver picks the artifact between two snapshots.
type Resolver interface {
	Resolve(dir string, before, after artifact.Snapshot) (artifact.Resolution, error)
}

// Snapshotter lists the output directory.
type Snapshotter func(dir string) (artifact.Snapshot, error)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// BlobStore mirrors finished artifacts somewhere durable.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher announces finished jobs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// AuditStore keeps one row per finished job.
type AuditStore interface {
	RecordJob(ctx context.Context, rec Record) error
}

// Record is the externally visible summary of a finished job, used for
// events and the audit log.
type Record struct {
	JobID        string    `json:"job_id"`
	State        State     `json:"state"`
	OriginalName string    `json:"original_filename"`
	InputSHA256  string    `json:"input_sha256,omitempty"`
	InputSize    int64     `json:"input_size"`
	ExitCode     int       `json:"exit_code"`
	Artifact     string    `json:"artifact,omitempty"`
	Match        string    `json:"match,omitempty"`
	ArtifactURI  string    `json:"artifact_uri,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	WorkerMillis int64     `json:"worker_ms"`
}

// Record summarizes j.
func (j Job) Record() Record {
	return Record{
		JobID:        j.ID,
		State:        j.State,
		OriginalName: j.OriginalName,
		InputSHA256:  j.InputSHA256,
		InputSize:    j.InputSize,
		ExitCode:     j.ExitCode,
		Artifact:     j.Artifact,
		Match:        string(j.Match),
		ArtifactURI:  j.ArtifactURI,
		Error:        j.Error,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		WorkerMillis: j.WorkerTime.Milliseconds(),
	}
}
