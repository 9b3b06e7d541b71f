package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidstream/internal/adapters/cookieservice"
	"vidstream/internal/adapters/localstorage"
	"vidstream/internal/adapters/ytdlp"
	"vidstream/internal/config"
	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/internal/logging"
	"vidstream/internal/platform"
	"vidstream/internal/service"
)

func main() {
	cfg, _ := config.Load()

	url := flag.String("url", "", "video URL to inspect")
	refresh := flag.Bool("refresh-cookies", false, "validate stored cookies and re-extract invalid ones")
	platformID := flag.String("platform", "", "limit -refresh-cookies to one platform")
	checkService := flag.Bool("check-service", false, "check the remote cookie-extraction service")
	noFallback := flag.Bool("no-fallback", false, "skip the fallback strategies when extracting metadata")
	flag.Parse()

	if *url == "" && !*refresh && !*checkService {
		fmt.Println("Usage: vidstream-cli -url <video-url> | -refresh-cookies [-platform <id>] | -check-service")
		fmt.Println("\nExample:")
		fmt.Println("  vidstream-cli -url https://www.youtube.com/watch?v=dQw4w9WgXcQ")
		fmt.Println("  vidstream-cli -refresh-cookies -platform tiktok")
		os.Exit(1)
	}

	// Keep stdout for results; logs go to stderr.
	logger := logging.New(os.Stderr, cfg.LogLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	platforms := platform.Default(cfg.PrimaryPlatform)
	runner := ytdlp.NewRunner(ytdlp.DetectBinary(cfg.YtDlpPath), cfg.KillGrace, logger, nil)
	store := localstorage.NewCookieStore(cfg.CookieDir, platforms)
	var remote ports.CookieExtractor
	if cfg.CookieServiceURL != "" {
		remote = cookieservice.NewClient(cfg.CookieServiceURL, 2*time.Minute)
	}
	auth := service.NewCookieAuthResolver(store, remote, runner, platforms, service.AuthConfig{
		FallbackCookieFile: cfg.FallbackCookieFile,
		Browsers:           cfg.CookieBrowsers,
		ProbeURL:           cfg.BrowserProbeURL,
		ProbeTimeout:       cfg.ProbeTimeout,
		ProbeTTL:           cfg.BrowserProbeTTL,
		AutoExtract:        cfg.AutoExtractCookies,
		Headless:           true,
	}, logger, nil)

	switch {
	case *checkService:
		if remote == nil {
			fmt.Println("Cookie service: not configured")
			os.Exit(1)
		}
		if err := remote.Health(ctx); err != nil {
			fmt.Printf("Cookie service: unhealthy (%v)\n", err)
			os.Exit(1)
		}
		fmt.Println("Cookie service: healthy")

	case *refresh:
		refresher := service.NewCookieRefresher(store, runner, auth, platforms, []string{cfg.PrimaryPlatform},
			cfg.ProbeTimeout, 0, logger, nil)
		var outcomes []service.RefreshOutcome
		if *platformID != "" {
			outcomes = []service.RefreshOutcome{refresher.RefreshPlatform(ctx, *platformID)}
		} else {
			outcomes = refresher.RefreshAll(ctx)
		}
		failed := false
		fmt.Println("\n=== Cookie Refresh ===")
		for _, o := range outcomes {
			state := "valid"
			switch {
			case o.Error != "":
				state = "FAILED: " + o.Error
				failed = true
			case o.Refreshed:
				state = "refreshed"
			}
			fmt.Printf("%-12s %s\n", o.Platform, state)
		}
		if failed {
			os.Exit(1)
		}

	default:
		extractor := service.NewMetadataExtractor(runner, auth, platforms, service.ExtractorConfig{
			Timeout:        cfg.MetadataTimeout,
			RetryAttempts:  cfg.RetryAttempts,
			RetryBaseDelay: cfg.RetryBaseDelay,
			FallbackLadder: service.ParseStrategies(cfg.FallbackLadder),
			UserAgents:     cfg.UserAgents,
		}, logger, nil)

		extract := extractor.GetVideoInfoWithFallback
		if *noFallback {
			extract = extractor.GetVideoInfo
		}
		info, err := extract(ctx, *url)
		if err != nil {
			fmt.Printf("Extraction failed: %v\n", err)
			os.Exit(1)
		}
		printInfo(info, service.SelectFormats(info, platforms.ForURL(*url)))
	}
}

func printInfo(info *domain.VideoInfo, formats []domain.OrderedFormat) {
	fmt.Println("\n=== Video Summary ===")
	fmt.Printf("Title:     %s\n", info.Title)
	fmt.Printf("Platform:  %s\n", info.Platform)
	fmt.Printf("Uploader:  %s\n", info.Uploader)
	if info.Duration != nil {
		fmt.Printf("Duration:  %s\n", time.Duration(*info.Duration*float64(time.Second)).Round(time.Second))
	}
	fmt.Printf("Formats:   %d usable of %d\n", len(formats), len(info.Formats))

	fmt.Println()
	fmt.Printf("%-12s %-6s %-10s %-12s %s\n", "FORMAT", "EXT", "QUALITY", "RESOLUTION", "SIZE")
	for _, f := range formats {
		size := "-"
		if f.Filesize != nil {
			size = fmt.Sprintf("%.1f MiB", float64(*f.Filesize)/(1<<20))
			if f.FilesizeApprox {
				size = "~" + size
			}
		}
		res := f.Resolution
		if res == "" {
			res = "audio only"
		}
		fmt.Printf("%-12s %-6s %-10s %-12s %s\n", f.FormatID, f.Ext, f.Quality, res, size)
	}
}
