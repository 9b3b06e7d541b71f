package service

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/internal/platform"
)

const fallbackJar = "/cookies/cookies.txt"

func newTestResolver(store *fakeCookieStore, remote ports.CookieExtractor, runner ports.ProcessRunner, cfg AuthConfig) *CookieAuthResolver {
	if cfg.FallbackCookieFile == "" {
		cfg.FallbackCookieFile = fallbackJar
	}
	return NewCookieAuthResolver(store, remote, runner, platform.Default("youtube"), cfg, zerolog.Nop(), nil)
}

func TestResolvePlatformFileWins(t *testing.T) {
	store := newFakeCookieStore("youtube")
	store.addFile(fallbackJar)
	runner := &fakeRunner{}
	r := newTestResolver(store, nil, runner, AuthConfig{Browsers: []string{"chrome"}, ProbeURL: "https://www.youtube.com/watch?v=a"})

	d := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=X")
	if d.Strategy != AuthPlatformFile || d.Reference != "/cookies/youtube-cookies.txt" {
		t.Fatalf("decision = %+v", d)
	}
	if len(runner.Calls()) != 0 {
		t.Fatal("browser probe ran although a platform file exists")
	}
	if args := d.Args(); !slices.Equal(args, []string{"--cookies", "/cookies/youtube-cookies.txt"}) {
		t.Fatalf("args = %v", args)
	}
}

func TestResolveFallbackFile(t *testing.T) {
	store := newFakeCookieStore()
	store.addFile(fallbackJar)
	r := newTestResolver(store, nil, &fakeRunner{}, AuthConfig{})

	d := r.Resolve(context.Background(), "https://www.tiktok.com/@u/video/1")
	if d.Strategy != AuthFallbackFile || d.Reference != fallbackJar || d.Platform != "tiktok" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestResolveBrowserProbeOrderAndCache(t *testing.T) {
	runner := &fakeRunner{fn: func(ctx context.Context, args []string, opts ports.RunOptions) (*ports.RunResult, error) {
		if argValue(args, "--cookies-from-browser") == "firefox" {
			return &ports.RunResult{}, nil
		}
		return nil, exitWith("ERROR: could not find chrome cookies database")
	}}
	r := newTestResolver(newFakeCookieStore(), nil, runner, AuthConfig{
		Browsers: []string{"chrome", "firefox", "edge"},
		ProbeURL: "https://www.youtube.com/watch?v=a",
		ProbeTTL: time.Hour,
	})

	d := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=X")
	if d.Strategy != AuthBrowser || d.Reference != "firefox" {
		t.Fatalf("decision = %+v", d)
	}
	if !slices.Equal(d.Args(), []string{"--cookies-from-browser", "firefox"}) {
		t.Fatalf("args = %v", d.Args())
	}
	calls := runner.Calls()
	if len(calls) != 2 {
		t.Fatalf("probe calls = %d, want 2 (chrome then firefox)", len(calls))
	}
	if !hasArg(calls[0], "--simulate") || calls[0][len(calls[0])-1] != "https://www.youtube.com/watch?v=a" {
		t.Fatalf("probe args = %v", calls[0])
	}

	r.Resolve(context.Background(), "https://www.youtube.com/watch?v=Y")
	if len(runner.Calls()) != 2 {
		t.Fatal("cached probe result was not reused")
	}

	r.InvalidateProbe()
	r.Resolve(context.Background(), "https://www.youtube.com/watch?v=Z")
	if len(runner.Calls()) != 4 {
		t.Fatalf("calls after invalidate = %d, want 4", len(runner.Calls()))
	}
}

func TestResolveNegativeProbeIsCached(t *testing.T) {
	runner := &fakeRunner{fn: func(ctx context.Context, args []string, opts ports.RunOptions) (*ports.RunResult, error) {
		return nil, exitWith("ERROR: no browser")
	}}
	r := newTestResolver(newFakeCookieStore(), nil, runner, AuthConfig{
		Browsers: []string{"chrome"},
		ProbeURL: "https://www.youtube.com/watch?v=a",
		ProbeTTL: time.Hour,
	})
	for i := 0; i < 3; i++ {
		if d := r.Resolve(context.Background(), "https://vimeo.com/1"); d.Strategy != AuthNone {
			t.Fatalf("decision = %+v", d)
		}
	}
	if len(runner.Calls()) != 1 {
		t.Fatalf("probe calls = %d, want 1", len(runner.Calls()))
	}
}

func TestResolveRemoteExtraction(t *testing.T) {
	store := newFakeCookieStore()
	remote := &fakeRemote{cookies: []domain.Cookie{{Domain: ".youtube.com", Name: "SID", Value: "v"}}}
	r := newTestResolver(store, remote, &fakeRunner{}, AuthConfig{AutoExtract: true})

	d := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=X")
	if d.Strategy != AuthRemoteExtraction || d.Reference != "/cookies/youtube-cookies.txt" {
		t.Fatalf("decision = %+v", d)
	}
	if remote.calls.Load() != 1 {
		t.Fatalf("remote calls = %d", remote.calls.Load())
	}
	if len(store.saved["youtube"]) != 1 {
		t.Fatal("extracted cookies were not stored")
	}

	// The stored jar now satisfies the first strategy.
	if d := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=Y"); d.Strategy != AuthPlatformFile {
		t.Fatalf("second decision = %+v", d)
	}
	if remote.calls.Load() != 1 {
		t.Fatal("remote service called again")
	}
}

func TestResolveRemoteFailureFallsThroughToNone(t *testing.T) {
	remote := &fakeRemote{err: errors.New("service down")}
	r := newTestResolver(newFakeCookieStore(), remote, &fakeRunner{}, AuthConfig{AutoExtract: true})

	d := r.Resolve(context.Background(), "https://www.instagram.com/p/abc/")
	if d.Strategy != AuthNone || d.Args() != nil {
		t.Fatalf("decision = %+v", d)
	}
}

func TestResolveAutoExtractDisabled(t *testing.T) {
	remote := &fakeRemote{}
	r := newTestResolver(newFakeCookieStore(), remote, &fakeRunner{}, AuthConfig{})
	if d := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=X"); d.Strategy != AuthNone {
		t.Fatalf("decision = %+v", d)
	}
	if remote.calls.Load() != 0 {
		t.Fatal("remote called with auto-extract disabled")
	}
}

func TestResolveUnknownPlatformSkipsFiles(t *testing.T) {
	store := newFakeCookieStore()
	store.addFile(fallbackJar)
	remote := &fakeRemote{}
	r := newTestResolver(store, remote, &fakeRunner{}, AuthConfig{AutoExtract: true})

	d := r.Resolve(context.Background(), "https://example.org/clip.mp4")
	if d.Strategy != AuthNone || d.Platform != platform.Unknown {
		t.Fatalf("decision = %+v", d)
	}
	if remote.calls.Load() != 0 {
		t.Fatal("remote extraction attempted for an unknown platform")
	}
}

func TestExtractRemoteDisabled(t *testing.T) {
	r := newTestResolver(newFakeCookieStore(), nil, &fakeRunner{}, AuthConfig{AutoExtract: true})
	if _, err := r.ExtractRemote(context.Background(), "youtube"); !errors.Is(err, ErrRemoteDisabled) {
		t.Fatalf("ExtractRemote() error = %v, want ErrRemoteDisabled", err)
	}
}

func TestAttachAuth(t *testing.T) {
	r := newTestResolver(newFakeCookieStore("youtube"), nil, &fakeRunner{}, AuthConfig{})
	b := NewArgBuilder("--dump-json")
	if !r.AttachAuth(context.Background(), b, "https://youtu.be/X") {
		t.Fatal("AttachAuth() = false")
	}
	if argValue(b.Build("https://youtu.be/X"), "--cookies") != "/cookies/youtube-cookies.txt" {
		t.Fatal("cookies flag not attached")
	}
}

// blockingRemote holds ExtractCookies open until release is closed and
// reports the state of the context it was given.
type blockingRemote struct {
	started chan struct{}
	release chan struct{}
	ctxErr  chan error
	calls   atomic.Int32
}

func (b *blockingRemote) ExtractCookies(ctx context.Context, req ports.ExtractCookiesRequest) ([]domain.Cookie, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	<-b.release
	b.ctxErr <- ctx.Err()
	return []domain.Cookie{{Domain: ".youtube.com", Name: "SID", Value: "v"}}, nil
}

func (b *blockingRemote) Health(ctx context.Context) error { return nil }

func TestExtractRemoteSurvivesFirstCallerCancel(t *testing.T) {
	remote := &blockingRemote{
		started: make(chan struct{}),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 2),
	}
	r := newTestResolver(newFakeCookieStore(), remote, &fakeRunner{}, AuthConfig{AutoExtract: true})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.ExtractRemote(ctxA, "youtube")
		errA <- err
	}()
	<-remote.started

	type result struct {
		path string
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		path, err := r.ExtractRemote(context.Background(), "youtube")
		resB <- result{path, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("canceled caller error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("canceled caller kept waiting on the shared extraction")
	}

	close(remote.release)
	if err := <-remote.ctxErr; err != nil {
		t.Fatalf("shared extraction context error = %v, want nil", err)
	}
	select {
	case res := <-resB:
		if res.err != nil || res.path != "/cookies/youtube-cookies.txt" {
			t.Fatalf("second caller = %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("second caller never got a result")
	}
}

func TestBrowserDetectionSurvivesFirstCallerCancel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	runner := &fakeRunner{fn: func(ctx context.Context, args []string, opts ports.RunOptions) (*ports.RunResult, error) {
		started <- struct{}{}
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &ports.RunResult{}, nil
	}}
	r := newTestResolver(newFakeCookieStore(), nil, runner, AuthConfig{
		Browsers: []string{"chrome"},
		ProbeURL: "https://www.youtube.com/watch?v=a",
		ProbeTTL: time.Hour,
	})

	ctxA, cancelA := context.WithCancel(context.Background())
	decA := make(chan AuthDecision, 1)
	go func() { decA <- r.Resolve(ctxA, "https://vimeo.com/1") }()
	<-started

	decB := make(chan AuthDecision, 1)
	go func() { decB <- r.Resolve(context.Background(), "https://vimeo.com/2") }()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if d := <-decA; d.Strategy != AuthNone {
		t.Fatalf("canceled caller decision = %+v", d)
	}
	close(release)
	if d := <-decB; d.Strategy != AuthBrowser || d.Reference != "chrome" {
		t.Fatalf("second caller decision = %+v, want browser chrome", d)
	}
}
