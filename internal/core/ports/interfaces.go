package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vidstream/internal/core/domain"
)

// RunOptions controls a single extractor invocation.
type RunOptions struct {
	// Timeout is a hard wall-clock limit. Zero means no limit beyond ctx.
	Timeout time.Duration

	// OnStdout switches the runner to piped mode: each chunk is handed to the
	// callback as it arrives and nothing is buffered. A returned error stops
	// the process. The slice is only valid for the duration of the call.
	OnStdout func(chunk []byte) error
}

// RunResult is returned for every process that was started.
type RunResult struct {
	ExitCode int
	Stdout   []byte // nil in piped mode
	Stderr   []byte
	Duration time.Duration
}

var (
	// ErrProcessTimeout is returned when RunOptions.Timeout elapses.
	ErrProcessTimeout = errors.New("process timed out")
	// ErrProcessCanceled is returned when the caller's context ends first.
	ErrProcessCanceled = errors.New("process canceled")
)

// ExitError reports a non-zero exit. Stderr is left uninterpreted.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited with code %d", e.Code)
}

// SpawnError reports that the process could not be started at all.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// SinkError wraps the error returned by RunOptions.OnStdout.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string { return "stdout sink failed: " + e.Err.Error() }
func (e *SinkError) Unwrap() error { return e.Err }

// ProcessRunner spawns and supervises one extractor process per call.
// Implementations must guarantee the process is gone before Run returns.
type ProcessRunner interface {
	Run(ctx context.Context, args []string, opts RunOptions) (*RunResult, error)
}

// CookieStore persists per-platform cookie jars on disk.
type CookieStore interface {
	// Path returns the conventional cookie file location for a platform.
	Path(platform string) string

	// Has reports whether a non-empty cookie file exists at path.
	Has(path string) bool

	// Save writes cookies for a platform, backing up the previous copy.
	Save(ctx context.Context, platform string, cookies []domain.Cookie) (string, error)

	// SaveRaw validates and stores an uploaded Netscape cookie file.
	SaveRaw(ctx context.Context, platform string, data []byte) (string, error)

	// Status describes the material currently on disk for a platform.
	Status(platform string) (*domain.CookieMaterial, error)
}

// ErrInvalidCookies is returned by CookieStore.SaveRaw for data that is not a
// usable Netscape cookie file.
var ErrInvalidCookies = errors.New("invalid cookie file")

// ExtractCookiesRequest is sent to the remote cookie-extraction service.
type ExtractCookiesRequest struct {
	Platform            string            `json:"platform"`
	Credentials         map[string]string `json:"credentials,omitempty"`
	Headless            bool              `json:"headless"`
	TestAfterExtraction bool              `json:"testAfterExtraction"`
}

// CookieExtractor obtains fresh cookies from the remote browser-automation service.
type CookieExtractor interface {
	ExtractCookies(ctx context.Context, req ExtractCookiesRequest) ([]domain.Cookie, error)
	Health(ctx context.Context) error
}

// SessionRecorder receives finalized stream sessions.
type SessionRecorder interface {
	Record(ctx context.Context, session *domain.StreamSession) error
}

// SessionHistory is a SessionRecorder that can list what it recorded.
type SessionHistory interface {
	SessionRecorder
	Recent(ctx context.Context, limit int) ([]*domain.StreamSession, error)
}

// ResultStore keeps analysis jobs for later polling.
type ResultStore interface {
	SaveJob(ctx context.Context, job *domain.AnalysisJob) error
	GetJob(ctx context.Context, id string) (*domain.AnalysisJob, error)
}

// ErrJobNotFound is returned by ResultStore.GetJob for unknown ids.
var ErrJobNotFound = errors.New("job not found")
