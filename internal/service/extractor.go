package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/internal/metrics"
	"vidstream/internal/platform"
)

// Strategy is one way of invoking the extractor for metadata.
type Strategy string

const (
	StrategyStandard    Strategy = "standard"
	StrategyEnhanced    Strategy = "enhanced"
	StrategyBasic       Strategy = "basic"
	StrategyAlternateUA Strategy = "alternate-ua"
)

// DefaultFallbackLadder is tried after the standard strategy's retries run out.
var DefaultFallbackLadder = []Strategy{StrategyEnhanced, StrategyBasic, StrategyAlternateUA}

// DefaultUserAgents rotate across calls.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// ParseStrategies reads a comma separated ladder, dropping unknown names.
func ParseStrategies(names []string) []Strategy {
	var out []Strategy
	for _, n := range names {
		switch s := Strategy(strings.TrimSpace(n)); s {
		case StrategyEnhanced, StrategyBasic, StrategyAlternateUA, StrategyStandard:
			out = append(out, s)
		}
	}
	return out
}

// ExtractorConfig tunes throttling, retries and the fallback ladder.
type ExtractorConfig struct {
	MinInterval    time.Duration
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	FallbackLadder []Strategy
	UserAgents     []string
}

// MetadataExtractor runs the extractor in dump-json mode and normalizes
// its output.
type MetadataExtractor struct {
	runner    ports.ProcessRunner
	auth      *CookieAuthResolver
	platforms *platform.Table
	cfg       ExtractorConfig
	limiter   *rate.Limiter
	uaCursor  atomic.Uint64
	sleep     func(ctx context.Context, d time.Duration) error
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewMetadataExtractor creates an extractor. The limiter is process-wide:
// every spawn, across all URLs, waits for the same token.
func NewMetadataExtractor(
	runner ports.ProcessRunner,
	auth *CookieAuthResolver,
	platforms *platform.Table,
	cfg ExtractorConfig,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *MetadataExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.FallbackLadder == nil {
		cfg.FallbackLadder = DefaultFallbackLadder
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &MetadataExtractor{
		runner:    runner,
		auth:      auth,
		platforms: platforms,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		sleep:     sleepContext,
		logger:    logger.With().Str("component", "metadata_extractor").Logger(),
		metrics:   m,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GetVideoInfo extracts metadata with the standard strategy, retrying
// retryable failures with exponential backoff.
func (e *MetadataExtractor) GetVideoInfo(ctx context.Context, targetURL string) (*domain.VideoInfo, error) {
	return e.Extract(ctx, domain.ExtractionRequest{TargetURL: targetURL}, false)
}

// GetVideoInfoWithFallback is GetVideoInfo plus the fallback ladder, each
// rung tried once, when the standard strategy fails recoverably.
func (e *MetadataExtractor) GetVideoInfoWithFallback(ctx context.Context, targetURL string) (*domain.VideoInfo, error) {
	return e.Extract(ctx, domain.ExtractionRequest{TargetURL: targetURL}, true)
}

// Extract runs the full retry policy for req.
func (e *MetadataExtractor) Extract(ctx context.Context, req domain.ExtractionRequest, withFallback bool) (*domain.VideoInfo, error) {
	policy := e.platforms.ForURL(req.TargetURL)
	platformID, platformName := platform.Unknown, ""
	if policy != nil {
		platformID, platformName = policy.ID, policy.Name
	}
	if err := validateURL(req.TargetURL); err != nil {
		return nil, &domain.ExtractionError{Kind: domain.KindUnsupportedURL, Platform: platformName, Message: userMessage(domain.KindUnsupportedURL, platformName, ""), Err: err}
	}
	logger := e.logger.With().Str("platform", platformID).Str("url", req.TargetURL).Logger()
	useAuth := req.AuthPreference != domain.AuthNone

	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		info, err := e.attempt(ctx, req.TargetURL, policy, StrategyStandard, useAuth)
		if err == nil {
			e.metrics.ObserveExtraction(platformID, "success")
			return info, nil
		}
		lastErr = err
		kind := domain.KindOf(err)
		logger.Warn().Err(err).Int("attempt", attempt).Str("kind", string(kind)).Msg("metadata extraction failed")
		if !kind.Retryable() || attempt == e.cfg.RetryAttempts || ctx.Err() != nil {
			break
		}
		delay := e.cfg.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
		if err := e.sleep(ctx, delay); err != nil {
			break
		}
	}

	if withFallback && domain.KindOf(lastErr).Recoverable() && ctx.Err() == nil {
		for _, strategy := range e.cfg.FallbackLadder {
			info, err := e.attempt(ctx, req.TargetURL, policy, strategy, useAuth)
			if err == nil {
				logger.Info().Str("strategy", string(strategy)).Msg("fallback strategy succeeded")
				e.metrics.ObserveExtraction(platformID, "success")
				return info, nil
			}
			logger.Warn().Err(err).Str("strategy", string(strategy)).Msg("fallback strategy failed")
			if k := domain.KindOf(err); k == domain.KindUnavailable || k == domain.KindSpawn || ctx.Err() != nil {
				lastErr = err
				break
			}
			// An earlier classified failure outranks a later unknown one.
			if domain.KindOf(lastErr) == domain.KindUnknown {
				lastErr = err
			}
		}
	}

	e.metrics.ObserveExtraction(platformID, string(domain.KindOf(lastErr)))
	return nil, lastErr
}

func (e *MetadataExtractor) attempt(ctx context.Context, targetURL string, policy *platform.Policy, strategy Strategy, useAuth bool) (*domain.VideoInfo, error) {
	platformName := ""
	if policy != nil {
		platformName = policy.Name
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, classifyRunError(fmt.Errorf("%w: %w", ports.ErrProcessCanceled, err), platformName)
	}

	b := e.buildArgs(ctx, targetURL, policy, strategy, useAuth)
	res, err := e.runner.Run(ctx, b.Build(targetURL), ports.RunOptions{Timeout: e.cfg.Timeout})
	if err != nil {
		return nil, classifyRunError(err, platformName)
	}
	info, err := ParseVideoInfo(res.Stdout)
	if err != nil {
		return nil, &domain.ExtractionError{Kind: domain.KindParse, Platform: platformName, Message: userMessage(domain.KindParse, platformName, ""), Err: err}
	}
	if policy != nil {
		info.Platform = policy.ID
	} else {
		info.Platform = platform.Unknown
	}
	return info, nil
}

func (e *MetadataExtractor) buildArgs(ctx context.Context, targetURL string, policy *platform.Policy, strategy Strategy, useAuth bool) *ArgBuilder {
	b := NewArgBuilder("--dump-json", "--no-playlist", "--ignore-errors", "--no-warnings")
	switch strategy {
	case StrategyStandard, StrategyEnhanced:
		if policy != nil && policy.ExtractorArgs != "" {
			b.Add("--extractor-args", policy.ExtractorArgs)
		}
		b.Add("--user-agent", e.nextUserAgent())
		if strategy == StrategyEnhanced {
			b.Add("--extractor-retries", "3", "--force-ipv4", "--geo-bypass")
		}
	case StrategyAlternateUA:
		// Skip one slot so the agent differs from the previous attempt.
		e.nextUserAgent()
		b.Add("--user-agent", e.nextUserAgent())
	case StrategyBasic:
	}
	if policy != nil && policy.Referer != "" {
		b.Add("--referer", policy.Referer)
	}
	if useAuth && e.auth != nil {
		e.auth.AttachAuth(ctx, b, targetURL)
	}
	return b
}

func (e *MetadataExtractor) nextUserAgent() string {
	n := e.uaCursor.Add(1) - 1
	return e.cfg.UserAgents[n%uint64(len(e.cfg.UserAgents))]
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("empty url")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("url must be http or https: %q", raw)
	}
	return nil
}

// rawInfo mirrors the subset of the extractor's JSON that is used. Numeric
// fields are floats because extractors are inconsistent about them.
type rawInfo struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Thumbnail  string      `json:"thumbnail"`
	Duration   *float64    `json:"duration"`
	Uploader   string      `json:"uploader"`
	UploadDate string      `json:"upload_date"`
	WebpageURL string      `json:"webpage_url"`
	Formats    []rawFormat `json:"formats"`
	rawFormat
}

type rawFormat struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	Resolution     string   `json:"resolution"`
	Width          *float64 `json:"width"`
	Height         *float64 `json:"height"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
	FPS            *float64 `json:"fps"`
	FormatNote     string   `json:"format_note"`
}

// ParseVideoInfo parses the first JSON object in the extractor's stdout.
// Missing fields degrade to zero values rather than failing the parse.
func ParseVideoInfo(stdout []byte) (*domain.VideoInfo, error) {
	var line []byte
	for _, l := range bytes.Split(stdout, []byte("\n")) {
		if l = bytes.TrimSpace(l); len(l) > 0 && l[0] == '{' {
			line = l
			break
		}
	}
	if line == nil {
		return nil, errors.New("extractor produced no JSON output")
	}
	var raw rawInfo
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("decode extractor JSON: %w", err)
	}

	info := &domain.VideoInfo{
		ID:         raw.ID,
		Title:      raw.Title,
		Thumbnail:  raw.Thumbnail,
		Duration:   raw.Duration,
		Uploader:   raw.Uploader,
		UploadDate: raw.UploadDate,
		WebpageURL: raw.WebpageURL,
		Formats:    make([]domain.Format, 0, len(raw.Formats)),
	}
	formats := raw.Formats
	if len(formats) == 0 && raw.rawFormat.FormatID != "" {
		formats = []rawFormat{raw.rawFormat}
	}
	for _, rf := range formats {
		info.Formats = append(info.Formats, normalizeFormat(rf))
	}
	return info, nil
}

func normalizeFormat(rf rawFormat) domain.Format {
	f := domain.Format{
		FormatID:   rf.FormatID,
		Ext:        rf.Ext,
		VideoCodec: rf.VCodec,
		AudioCodec: rf.ACodec,
		FPS:        rf.FPS,
		Note:       rf.FormatNote,
	}
	if rf.Width != nil {
		f.Width = int(*rf.Width)
	}
	if rf.Height != nil {
		f.Height = int(*rf.Height)
	}
	if f.Height == 0 {
		f.Width, f.Height = parseResolution(rf.Resolution)
	}
	if f.Width > 0 && f.Height > 0 {
		f.Resolution = fmt.Sprintf("%dx%d", f.Width, f.Height)
	}
	switch {
	case rf.Filesize != nil && *rf.Filesize > 0:
		size := int64(*rf.Filesize)
		f.Filesize = &size
	case rf.FilesizeApprox != nil && *rf.FilesizeApprox > 0:
		size := int64(*rf.FilesizeApprox)
		f.Filesize = &size
		f.FilesizeApprox = true
	}
	if f.VideoCodec == "" {
		if f.Height > 0 {
			f.VideoCodec = "unknown"
		} else {
			f.VideoCodec = domain.CodecNone
		}
	}
	if f.AudioCodec == "" {
		f.AudioCodec = domain.CodecNone
	}
	return f
}

func parseResolution(s string) (int, int) {
	w, h, ok := strings.Cut(strings.TrimSpace(s), "x")
	if !ok {
		return 0, 0
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return width, height
}
