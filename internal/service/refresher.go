package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"vidstream/internal/core/ports"
	"vidstream/internal/metrics"
	"vidstream/internal/platform"
)

// RefreshOutcome reports what happened to one platform's cookie jar.
type RefreshOutcome struct {
	Platform  string `json:"platform"`
	Valid     bool   `json:"valid"`
	Refreshed bool   `json:"refreshed"`
	Error     string `json:"error,omitempty"`
}

// CookieRefresher validates stored cookie jars against each platform's
// canary URL and replaces invalid ones through remote extraction.
type CookieRefresher struct {
	store     ports.CookieStore
	runner    ports.ProcessRunner
	auth      *CookieAuthResolver
	platforms *platform.Table
	always    []string
	timeout   time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewCookieRefresher creates a refresher. always lists platforms refreshed
// even when no jar exists yet; other platforms are only checked once a jar
// is on disk.
func NewCookieRefresher(
	store ports.CookieStore,
	runner ports.ProcessRunner,
	auth *CookieAuthResolver,
	platforms *platform.Table,
	always []string,
	timeout, interval time.Duration,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *CookieRefresher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CookieRefresher{
		store:     store,
		runner:    runner,
		auth:      auth,
		platforms: platforms,
		always:    always,
		timeout:   timeout,
		interval:  interval,
		logger:    logger.With().Str("component", "cookie_refresher").Logger(),
		metrics:   m,
	}
}

// Run refreshes on every tick until ctx is done. A zero interval disables it.
func (r *CookieRefresher) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info().Msg("cookie auto-refresh disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info().Dur("interval", r.interval).Msg("cookie auto-refresh started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("cookie auto-refresh stopped")
			return
		case <-ticker.C:
			r.RefreshAll(ctx)
		}
	}
}

// RefreshAll refreshes every platform with a jar on disk plus the always list.
func (r *CookieRefresher) RefreshAll(ctx context.Context) []RefreshOutcome {
	var outcomes []RefreshOutcome
	for _, id := range r.platforms.IDs() {
		if ctx.Err() != nil {
			break
		}
		if !r.store.Has(r.store.Path(id)) && !slices.Contains(r.always, id) {
			continue
		}
		outcomes = append(outcomes, r.RefreshPlatform(ctx, id))
	}
	return outcomes
}

// RefreshPlatform validates one jar and re-extracts it when invalid.
func (r *CookieRefresher) RefreshPlatform(ctx context.Context, id string) RefreshOutcome {
	out := RefreshOutcome{Platform: id}
	policy, ok := r.platforms.Get(id)
	if !ok {
		out.Error = "unknown platform"
		return out
	}
	logger := r.logger.With().Str("platform", id).Logger()

	path := r.store.Path(id)
	if r.store.Has(path) {
		err := r.validate(ctx, policy, path)
		if err == nil {
			out.Valid = true
			r.metrics.ObserveCookieRefresh(id, "valid")
			logger.Info().Msg("cookies valid")
			return out
		}
		logger.Warn().Err(err).Msg("cookie validation failed")
	}

	if _, err := r.auth.ExtractRemote(ctx, id); err != nil {
		out.Error = err.Error()
		r.metrics.ObserveCookieRefresh(id, "failed")
		logger.Error().Err(err).Msg("cookie refresh failed")
		return out
	}
	r.auth.InvalidateProbe()
	out.Valid = true
	out.Refreshed = true
	r.metrics.ObserveCookieRefresh(id, "refreshed")
	logger.Info().Msg("cookies refreshed")
	return out
}

func (r *CookieRefresher) validate(ctx context.Context, policy *platform.Policy, path string) error {
	if policy.TestURL == "" {
		return errors.New("platform has no canary url")
	}
	args := NewArgBuilder("--simulate", "--quiet", "--no-warnings", "--no-playlist", "--cookies", path).Build(policy.TestURL)
	_, err := r.runner.Run(ctx, args, ports.RunOptions{Timeout: r.timeout})
	if err != nil {
		return classifyRunError(err, policy.Name)
	}
	return nil
}
