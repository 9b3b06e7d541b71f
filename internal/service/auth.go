package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"vidstream/internal/core/ports"
	"vidstream/internal/metrics"
	"vidstream/internal/platform"
)

// AuthStrategy names the source of the cookies attached to one call.
type AuthStrategy string

const (
	AuthPlatformFile     AuthStrategy = "platform_file"
	AuthFallbackFile     AuthStrategy = "fallback_file"
	AuthBrowser          AuthStrategy = "browser"
	AuthRemoteExtraction AuthStrategy = "remote_extraction"
	AuthNone             AuthStrategy = "none"
)

// ErrRemoteDisabled is returned when no cookie-extraction service is configured.
var ErrRemoteDisabled = errors.New("remote cookie extraction is not configured")

// AuthDecision is the outcome of resolving auth for one URL.
type AuthDecision struct {
	Strategy  AuthStrategy
	Platform  string
	Reference string // cookie file path or browser name
}

// Args returns the extractor flags for the decision.
func (d AuthDecision) Args() []string {
	switch d.Strategy {
	case AuthPlatformFile, AuthFallbackFile, AuthRemoteExtraction:
		return []string{"--cookies", d.Reference}
	case AuthBrowser:
		return []string{"--cookies-from-browser", d.Reference}
	}
	return nil
}

// AuthConfig configures the resolver strategies.
type AuthConfig struct {
	FallbackCookieFile string
	Browsers           []string
	ProbeURL           string
	ProbeTimeout       time.Duration
	ProbeTTL           time.Duration
	AutoExtract        bool
	Headless           bool
	RemoteTimeout      time.Duration
}

type probeResult struct {
	browser string
	at      time.Time
	valid   bool
}

// CookieAuthResolver picks the cookie material for each extractor call. The
// strategy order is fixed and the first success ends the search.
type CookieAuthResolver struct {
	store     ports.CookieStore
	remote    ports.CookieExtractor
	runner    ports.ProcessRunner
	platforms *platform.Table
	cfg       AuthConfig
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	extractGroup singleflight.Group
	probeGroup   singleflight.Group

	mu    sync.Mutex
	probe probeResult
	now   func() time.Time
}

// NewCookieAuthResolver creates a resolver. remote may be nil, which
// disables remote extraction regardless of cfg.AutoExtract.
func NewCookieAuthResolver(
	store ports.CookieStore,
	remote ports.CookieExtractor,
	runner ports.ProcessRunner,
	platforms *platform.Table,
	cfg AuthConfig,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *CookieAuthResolver {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 20 * time.Second
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 2 * time.Minute
	}
	return &CookieAuthResolver{
		store:     store,
		remote:    remote,
		runner:    runner,
		platforms: platforms,
		cfg:       cfg,
		logger:    logger.With().Str("component", "auth_resolver").Logger(),
		metrics:   m,
		now:       time.Now,
	}
}

// AttachAuth resolves auth for targetURL and appends the matching flags.
// It reports whether any auth was attached; running without auth is not an error.
func (r *CookieAuthResolver) AttachAuth(ctx context.Context, b *ArgBuilder, targetURL string) bool {
	d := r.Resolve(ctx, targetURL)
	b.Add(d.Args()...)
	return d.Strategy != AuthNone
}

// Resolve walks the strategies in order: platform cookie file, shared
// fallback file, local browser profiles, remote extraction, none.
func (r *CookieAuthResolver) Resolve(ctx context.Context, targetURL string) AuthDecision {
	d := r.resolve(ctx, targetURL)
	r.metrics.ObserveAuthStrategy(string(d.Strategy))
	r.logger.Debug().Str("platform", d.Platform).Str("strategy", string(d.Strategy)).Msg("auth resolved")
	return d
}

func (r *CookieAuthResolver) resolve(ctx context.Context, targetURL string) AuthDecision {
	policy := r.platforms.ForURL(targetURL)
	if policy != nil {
		if path := r.store.Path(policy.ID); r.store.Has(path) {
			return AuthDecision{Strategy: AuthPlatformFile, Platform: policy.ID, Reference: path}
		}
		if r.store.Has(r.cfg.FallbackCookieFile) {
			return AuthDecision{Strategy: AuthFallbackFile, Platform: policy.ID, Reference: r.cfg.FallbackCookieFile}
		}
	}
	platformID := platform.Unknown
	if policy != nil {
		platformID = policy.ID
	}

	if browser, ok := r.probeBrowsers(ctx); ok {
		return AuthDecision{Strategy: AuthBrowser, Platform: platformID, Reference: browser}
	}

	if policy != nil && r.cfg.AutoExtract && r.remote != nil {
		if _, err := r.ExtractRemote(ctx, policy.ID); err != nil {
			r.logger.Warn().Err(err).Str("platform", policy.ID).Msg("remote cookie extraction unavailable")
		} else if path := r.store.Path(policy.ID); r.store.Has(path) {
			return AuthDecision{Strategy: AuthRemoteExtraction, Platform: policy.ID, Reference: path}
		}
	}
	return AuthDecision{Strategy: AuthNone, Platform: platformID}
}

// ExtractRemote obtains cookies from the remote service and stores them as
// the platform's jar. Concurrent calls for one platform share a single
// request, which runs detached from any one caller; each caller stops
// waiting when its own ctx ends.
func (r *CookieAuthResolver) ExtractRemote(ctx context.Context, platformID string) (string, error) {
	if r.remote == nil {
		return "", ErrRemoteDisabled
	}
	ch := r.extractGroup.DoChan(platformID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RemoteTimeout)
		defer cancel()

		r.logger.Info().Str("platform", platformID).Msg("requesting cookies from remote service")
		cookies, err := r.remote.ExtractCookies(flightCtx, ports.ExtractCookiesRequest{
			Platform:            platformID,
			Headless:            r.cfg.Headless,
			TestAfterExtraction: true,
		})
		if err != nil {
			return "", err
		}
		path, err := r.store.Save(flightCtx, platformID, cookies)
		if err != nil {
			return "", fmt.Errorf("store extracted cookies: %w", err)
		}
		r.logger.Info().Str("platform", platformID).Int("cookies", len(cookies)).Str("path", path).Msg("remote cookies stored")
		return path, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// probeBrowsers finds the first local browser whose cookie store lets the
// extractor reach the probe URL. Results are cached for ProbeTTL. The probe
// runs detached from the caller; every spawn is bounded by ProbeTimeout.
func (r *CookieAuthResolver) probeBrowsers(ctx context.Context) (string, bool) {
	if len(r.cfg.Browsers) == 0 || r.cfg.ProbeURL == "" {
		return "", false
	}
	r.mu.Lock()
	cached := r.probe
	r.mu.Unlock()
	if cached.valid && r.now().Sub(cached.at) < r.cfg.ProbeTTL {
		return cached.browser, cached.browser != ""
	}

	ch := r.probeGroup.DoChan("probe", func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)
		for _, browser := range r.cfg.Browsers {
			args := NewArgBuilder("--simulate", "--quiet", "--no-warnings", "--no-playlist",
				"--cookies-from-browser", browser).Build(r.cfg.ProbeURL)
			if _, err := r.runner.Run(flightCtx, args, ports.RunOptions{Timeout: r.cfg.ProbeTimeout}); err != nil {
				r.logger.Debug().Err(err).Str("browser", browser).Msg("browser cookie probe failed")
				continue
			}
			r.rememberProbe(browser)
			return browser, nil
		}
		r.rememberProbe("")
		return "", nil
	})
	select {
	case <-ctx.Done():
		return "", false
	case res := <-ch:
		browser, _ := res.Val.(string)
		return browser, browser != ""
	}
}

func (r *CookieAuthResolver) rememberProbe(browser string) {
	r.mu.Lock()
	r.probe = probeResult{browser: browser, at: r.now(), valid: true}
	r.mu.Unlock()
}

// InvalidateProbe forgets the cached browser probe outcome.
func (r *CookieAuthResolver) InvalidateProbe() {
	r.mu.Lock()
	r.probe = probeResult{}
	r.mu.Unlock()
}
