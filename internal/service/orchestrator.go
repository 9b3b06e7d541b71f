package service

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/internal/platform"
)

// Orchestrator is the long-lived facade route handlers talk to. It is
// constructed once per process and owns the throttle, the auth resolver and
// the stream pump.
type Orchestrator struct {
	platforms *platform.Table
	extractor *MetadataExtractor
	auth      *CookieAuthResolver
	pump      *StreamPump
	refresher *CookieRefresher
	store     ports.CookieStore
	remote    ports.CookieExtractor
	logger    zerolog.Logger
}

// NewOrchestrator wires the core components together.
func NewOrchestrator(
	platforms *platform.Table,
	extractor *MetadataExtractor,
	auth *CookieAuthResolver,
	pump *StreamPump,
	refresher *CookieRefresher,
	store ports.CookieStore,
	remote ports.CookieExtractor,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		platforms: platforms,
		extractor: extractor,
		auth:      auth,
		pump:      pump,
		refresher: refresher,
		store:     store,
		remote:    remote,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
	}
}

// GetVideoInfo extracts metadata with same-strategy retries only.
func (o *Orchestrator) GetVideoInfo(ctx context.Context, targetURL string) (*domain.VideoInfo, error) {
	return o.extractor.GetVideoInfo(ctx, targetURL)
}

// GetVideoInfoWithFallback adds the fallback ladder.
func (o *Orchestrator) GetVideoInfoWithFallback(ctx context.Context, targetURL string) (*domain.VideoInfo, error) {
	return o.extractor.GetVideoInfoWithFallback(ctx, targetURL)
}

// Analyze extracts metadata and ranks the formats for the URL's platform.
func (o *Orchestrator) Analyze(ctx context.Context, targetURL string) (*domain.VideoInfo, []domain.OrderedFormat, error) {
	info, err := o.extractor.GetVideoInfoWithFallback(ctx, targetURL)
	if err != nil {
		return nil, nil, err
	}
	return info, SelectFormats(info, o.platforms.ForURL(targetURL)), nil
}

// StreamVideo streams one format of a video into w.
func (o *Orchestrator) StreamVideo(w http.ResponseWriter, r *http.Request, opts StreamOptions) *domain.StreamResult {
	return o.pump.Stream(w, r, opts)
}

// IsSupportedFormat reports whether ext is a servable container.
func (o *Orchestrator) IsSupportedFormat(ext string) bool {
	return IsSupportedFormat(ext)
}

// Platforms exposes the policy table.
func (o *Orchestrator) Platforms() *platform.Table {
	return o.platforms
}

// CookieStatus describes the stored jar of every known platform.
func (o *Orchestrator) CookieStatus() ([]*domain.CookieMaterial, error) {
	var out []*domain.CookieMaterial
	for _, id := range o.platforms.IDs() {
		m, err := o.store.Status(id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// UploadCookies stores an admin-supplied Netscape jar.
func (o *Orchestrator) UploadCookies(ctx context.Context, platformID string, data []byte) (*domain.CookieMaterial, error) {
	if _, err := o.store.SaveRaw(ctx, platformID, data); err != nil {
		return nil, err
	}
	o.auth.InvalidateProbe()
	o.logger.Info().Str("platform", platformID).Msg("cookies uploaded")
	return o.store.Status(platformID)
}

// RefreshCookies runs one auto-refresh pass, for one platform or all of them.
func (o *Orchestrator) RefreshCookies(ctx context.Context, platformID string) []RefreshOutcome {
	if platformID != "" {
		return []RefreshOutcome{o.refresher.RefreshPlatform(ctx, platformID)}
	}
	return o.refresher.RefreshAll(ctx)
}

// CookieServiceHealth checks the remote cookie-extraction service.
func (o *Orchestrator) CookieServiceHealth(ctx context.Context) error {
	if o.remote == nil {
		return ErrRemoteDisabled
	}
	return o.remote.Health(ctx)
}
