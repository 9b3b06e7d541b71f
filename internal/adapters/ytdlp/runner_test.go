//go:build !windows

package ytdlp

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidstream/internal/core/ports"
)

func newShellRunner(grace time.Duration) *Runner {
	return NewRunner("/bin/sh", grace, zerolog.Nop(), nil)
}

func assertReaped(t *testing.T, stdout []byte) {
	t.Helper()
	line := strings.SplitN(strings.TrimSpace(string(stdout)), "\n", 2)[0]
	pid, err := strconv.Atoi(line)
	if err != nil {
		t.Fatalf("could not parse pid from %q: %v", stdout, err)
	}
	if err := syscall.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Fatalf("process %d still exists (kill 0 = %v)", pid, err)
	}
}

func TestRunBufferedSuccess(t *testing.T) {
	r := newShellRunner(time.Second)
	res, err := r.Run(context.Background(), []string{"-c", "echo hello; echo oops >&2"}, ports.RunOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.TrimSpace(string(res.Stdout)); got != "hello" {
		t.Fatalf("stdout = %q, want %q", got, "hello")
	}
	if got := strings.TrimSpace(string(res.Stderr)); got != "oops" {
		t.Fatalf("stderr = %q, want %q", got, "oops")
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
}

func TestRunNonZeroExitCarriesStderr(t *testing.T) {
	r := newShellRunner(time.Second)
	_, err := r.Run(context.Background(), []string{"-c", "echo 'ERROR: Sign in to confirm' >&2; exit 3"}, ports.RunOptions{})
	var exitErr *ports.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v, want *ports.ExitError", err)
	}
	if exitErr.Code != 3 {
		t.Fatalf("code = %d, want 3", exitErr.Code)
	}
	if !strings.Contains(exitErr.Stderr, "Sign in to confirm") {
		t.Fatalf("stderr = %q, missing message", exitErr.Stderr)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	r := NewRunner("/nonexistent/yt-dlp", time.Second, zerolog.Nop(), nil)
	_, err := r.Run(context.Background(), nil, ports.RunOptions{})
	var spawnErr *ports.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("error = %v, want *ports.SpawnError", err)
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	r := newShellRunner(200 * time.Millisecond)
	start := time.Now()
	res, err := r.Run(context.Background(), []string{"-c", "echo $$; exec sleep 30"}, ports.RunOptions{Timeout: 300 * time.Millisecond})
	if !errors.Is(err, ports.ErrProcessTimeout) {
		t.Fatalf("error = %v, want ErrProcessTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run took %v, want prompt termination", elapsed)
	}
	assertReaped(t, res.Stdout)
}

func TestRunEscalatesWhenTermIgnored(t *testing.T) {
	r := newShellRunner(200 * time.Millisecond)
	res, err := r.Run(context.Background(), []string{"-c", "trap '' TERM; echo $$; sleep 30"}, ports.RunOptions{Timeout: 200 * time.Millisecond})
	if !errors.Is(err, ports.ErrProcessTimeout) {
		t.Fatalf("error = %v, want ErrProcessTimeout", err)
	}
	assertReaped(t, res.Stdout)
}

func TestRunCancellation(t *testing.T) {
	r := newShellRunner(200 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	res, err := r.Run(ctx, []string{"-c", "echo $$; exec sleep 30"}, ports.RunOptions{})
	if !errors.Is(err, ports.ErrProcessCanceled) {
		t.Fatalf("error = %v, want ErrProcessCanceled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want to wrap context.Canceled", err)
	}
	assertReaped(t, res.Stdout)
}

func TestRunAlreadyCanceledDoesNotSpawn(t *testing.T) {
	r := newShellRunner(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := r.Run(ctx, []string{"-c", "echo never"}, ports.RunOptions{})
	if !errors.Is(err, ports.ErrProcessCanceled) {
		t.Fatalf("error = %v, want ErrProcessCanceled", err)
	}
	if res != nil {
		t.Fatalf("result = %+v, want nil", res)
	}
}

func TestRunPipedForwardsChunks(t *testing.T) {
	r := newShellRunner(time.Second)
	var got strings.Builder
	res, err := r.Run(context.Background(), []string{"-c", "printf abc; printf def"}, ports.RunOptions{
		Timeout: 5 * time.Second,
		OnStdout: func(chunk []byte) error {
			got.Write(chunk)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.String() != "abcdef" {
		t.Fatalf("streamed = %q, want %q", got.String(), "abcdef")
	}
	if res.Stdout != nil {
		t.Fatalf("piped mode buffered %d bytes", len(res.Stdout))
	}
}

func TestRunPipedSinkErrorStopsProcess(t *testing.T) {
	r := newShellRunner(200 * time.Millisecond)
	sinkErr := errors.New("client went away")
	start := time.Now()
	_, err := r.Run(context.Background(), []string{"-c", "while true; do echo data; done"}, ports.RunOptions{
		OnStdout: func([]byte) error { return sinkErr },
	})
	var se *ports.SinkError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *ports.SinkError", err)
	}
	if !errors.Is(err, sinkErr) {
		t.Fatalf("error = %v, want to wrap sink error", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run took %v after sink failure", elapsed)
	}
}

func TestRunPipedStalledSinkStillTimesOut(t *testing.T) {
	r := newShellRunner(200 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	entered := make(chan struct{}, 1)

	start := time.Now()
	res, err := r.Run(context.Background(), []string{"-c", "echo $$ >&2; while true; do head -c 65536 /dev/zero; done"}, ports.RunOptions{
		Timeout: 300 * time.Millisecond,
		OnStdout: func([]byte) error {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
			return errors.New("released")
		},
	})
	if !errors.Is(err, ports.ErrProcessTimeout) {
		t.Fatalf("error = %v, want ErrProcessTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Run took %v with a stalled sink", elapsed)
	}
	select {
	case <-entered:
	default:
		t.Fatal("sink was never called")
	}
	assertReaped(t, res.Stderr)
}

func TestTailBufferKeepsEnd(t *testing.T) {
	b := &tailBuffer{limit: 4}
	b.Write([]byte("abc"))
	b.Write([]byte("defg"))
	if got := string(b.Bytes()); got != "defg" {
		t.Fatalf("tail = %q, want %q", got, "defg")
	}
}

func TestDetectBinaryPrefersConfigured(t *testing.T) {
	if got := DetectBinary("/opt/yt-dlp"); got != "/opt/yt-dlp" {
		t.Fatalf("DetectBinary = %q, want /opt/yt-dlp", got)
	}
}
