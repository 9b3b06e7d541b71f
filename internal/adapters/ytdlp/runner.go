package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vidstream/internal/core/ports"
	"vidstream/internal/metrics"
)

const (
	defaultKillGrace = 3 * time.Second
	maxStdoutBytes   = 64 << 20
	maxStderrBytes   = 256 << 10
)

// Runner implements ports.ProcessRunner for the yt-dlp binary.
type Runner struct {
	binaryPath string
	killGrace  time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// DetectBinary resolves the extractor executable. An explicit path wins,
// then a yt-dlp.exe next to the working directory, then yt-dlp from PATH.
func DetectBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if _, err := os.Stat("yt-dlp.exe"); err == nil {
		return ".\\yt-dlp.exe"
	}
	return "yt-dlp"
}

// NewRunner creates a Runner. killGrace is the time between the polite
// termination signal and the hard kill.
func NewRunner(binaryPath string, killGrace time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Runner {
	if killGrace <= 0 {
		killGrace = defaultKillGrace
	}
	return &Runner{
		binaryPath: binaryPath,
		killGrace:  killGrace,
		logger:     logger.With().Str("component", "process_runner").Logger(),
		metrics:    m,
	}
}

// BinaryPath returns the executable this runner spawns.
func (r *Runner) BinaryPath() string { return r.binaryPath }

// Run spawns one process and supervises it until it is gone. Every return
// path, including timeout and cancellation, waits for the process to be reaped.
func (r *Runner) Run(ctx context.Context, args []string, opts ports.RunOptions) (*ports.RunResult, error) {
	mode := "buffered"
	if opts.OnStdout != nil {
		mode = "piped"
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrProcessCanceled, err)
	}

	cmd := exec.Command(r.binaryPath, args...)
	cmd.Stdin = nil
	cmd.WaitDelay = r.killGrace
	setProcessGroup(cmd)

	stderr := &tailBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr

	var stdout *headBuffer
	var sink *sinkWriter
	var sinkFailed <-chan struct{}
	var stdoutPipe io.ReadCloser
	if opts.OnStdout != nil {
		sink = newSinkWriter(opts.OnStdout)
		sinkFailed = sink.failed
		// Piped output is read by copyToSink rather than by exec, so a sink
		// stuck in a slow write never holds up Wait.
		p, err := cmd.StdoutPipe()
		if err != nil {
			return nil, &ports.SpawnError{Binary: r.binaryPath, Err: err}
		}
		stdoutPipe = p
	} else {
		stdout = &headBuffer{limit: maxStdoutBytes}
		cmd.Stdout = stdout
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		r.metrics.ObserveProcess(mode, "spawn_error", 0)
		return nil, &ports.SpawnError{Binary: r.binaryPath, Err: err}
	}
	pid := cmd.Process.Pid
	r.logger.Debug().Int("pid", pid).Str("mode", mode).Strs("args", args).Msg("extractor started")

	readDone := make(chan struct{})
	if stdoutPipe != nil {
		go copyToSink(stdoutPipe, sink, readDone)
	} else {
		close(readDone)
	}
	// Wait closes the stdout pipe, so on the normal path it runs only after
	// the reader hit EOF. abort releases it early when the process is stopped.
	abort := make(chan struct{})
	waitDone := make(chan error, 1)
	go func() {
		select {
		case <-readDone:
		case <-abort:
		}
		waitDone <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var cause error
	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-sinkFailed:
		cause = &ports.SinkError{Err: sink.Err()}
		waitErr = r.terminate(cmd, abort, waitDone)
	case <-timeout:
		cause = ports.ErrProcessTimeout
		waitErr = r.terminate(cmd, abort, waitDone)
	case <-ctx.Done():
		cause = fmt.Errorf("%w: %w", ports.ErrProcessCanceled, ctx.Err())
		waitErr = r.terminate(cmd, abort, waitDone)
	}
	if cause == nil && sink != nil && sink.Err() != nil {
		cause = &ports.SinkError{Err: sink.Err()}
	}

	res := &ports.RunResult{
		ExitCode: exitCode(cmd),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if stdout != nil {
		res.Stdout = stdout.Bytes()
	}

	outcome := "success"
	var err error
	switch {
	case cause != nil:
		err = cause
		outcome = outcomeFor(cause)
	case res.ExitCode != 0:
		err = &ports.ExitError{Code: res.ExitCode, Stderr: string(res.Stderr)}
		outcome = "exit_error"
	case waitErr != nil:
		err = fmt.Errorf("wait for extractor: %w", waitErr)
		outcome = "wait_error"
	}
	r.metrics.ObserveProcess(mode, outcome, res.Duration)

	ev := r.logger.Debug()
	if err != nil {
		ev = r.logger.Warn().Err(err)
	}
	ev.Int("pid", pid).Str("mode", mode).Int("exit_code", res.ExitCode).Dur("duration", res.Duration).Msg("extractor finished")
	return res, err
}

// terminate asks the process group to stop, escalates to a hard kill after
// the grace period, and always waits for the reaper goroutine.
func (r *Runner) terminate(cmd *exec.Cmd, abort chan struct{}, waitDone <-chan error) error {
	if err := signalTerminate(cmd); err != nil {
		r.logger.Debug().Err(err).Msg("terminate signal failed")
	}
	close(abort)
	grace := time.NewTimer(r.killGrace)
	defer grace.Stop()
	select {
	case err := <-waitDone:
		return err
	case <-grace.C:
	}
	r.logger.Warn().Int("pid", cmd.Process.Pid).Msg("extractor ignored termination, killing")
	if err := signalKill(cmd); err != nil {
		r.logger.Debug().Err(err).Msg("kill failed")
	}
	return <-waitDone
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func outcomeFor(err error) string {
	var se *ports.SinkError
	switch {
	case errors.Is(err, ports.ErrProcessTimeout):
		return "timeout"
	case errors.Is(err, ports.ErrProcessCanceled):
		return "canceled"
	case errors.As(err, &se):
		return "sink_error"
	}
	return "error"
}

// copyToSink reads stdout until EOF or the first sink failure.
func copyToSink(src io.Reader, sink *sinkWriter, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 32<<10)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// sinkWriter forwards stdout chunks and records the first callback failure.
type sinkWriter struct {
	fn     func([]byte) error
	failed chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
}

func newSinkWriter(fn func([]byte) error) *sinkWriter {
	return &sinkWriter{fn: fn, failed: make(chan struct{})}
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	if err := s.Err(); err != nil {
		return 0, err
	}
	if err := s.fn(p); err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.once.Do(func() { close(s.failed) })
		return 0, err
	}
	return len(p), nil
}

func (s *sinkWriter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// headBuffer keeps the first limit bytes and drops the rest.
type headBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *headBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *headBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

// tailBuffer keeps the last limit bytes, where extractor errors usually are.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf)
}
