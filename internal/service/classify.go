package service

import (
	"errors"
	"fmt"
	"strings"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
)

// stderrRule maps extractor stderr to an error kind. Rules are evaluated in
// order and the first match wins, so specific phrases precede generic ones.
type stderrRule struct {
	kind    domain.ErrorKind
	matches func(lower string) bool
}

func containsAny(substrs ...string) func(string) bool {
	return func(s string) bool {
		for _, sub := range substrs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
}

var stderrRules = []stderrRule{
	{domain.KindUnavailable, containsAny(
		"private video",
		"this video is private",
		"video has been removed",
		"has been terminated",
		"not available in your country",
		"blocked it in your country",
		"geo restricted",
		"geo-restricted",
	)},
	{domain.KindAuthRequired, containsAny(
		"sign in to confirm",
		"confirm your age",
		"age-restricted",
		"inappropriate for some users",
		"login required",
		"log in to",
		"requires authentication",
		"use --cookies",
		"cookies-from-browser",
		"http error 401",
		"http error 403",
	)},
	{domain.KindRateLimited, containsAny(
		"http error 429",
		"too many requests",
		"rate limit",
		"rate-limit",
		"ratelimit",
	)},
	{domain.KindFormatNotFound, containsAny(
		"requested format is not available",
		"requested format not available",
	)},
	{domain.KindUnsupportedURL, containsAny(
		"unsupported url",
		"is not a valid url",
	)},
	{domain.KindUnavailable, containsAny(
		"video unavailable",
		"this video is unavailable",
		"video has been deleted",
		"does not exist",
		"no longer available",
		"content isn't available",
		"http error 404",
		"http error 410",
	)},
	{domain.KindTimeout, containsAny(
		"timed out",
		"timeout",
	)},
	{domain.KindNetwork, containsAny(
		"unable to download webpage",
		"unable to download json",
		"connection reset",
		"connection refused",
		"connection aborted",
		"network is unreachable",
		"temporary failure in name resolution",
		"name or service not known",
		"getaddrinfo failed",
		"remote end closed connection",
		"incompleteread",
		"ssl:",
		"http error 5",
	)},
}

// ClassifyStderr maps extractor stderr text to an error kind.
func ClassifyStderr(stderr string) domain.ErrorKind {
	lower := strings.ToLower(stderr)
	for _, rule := range stderrRules {
		if rule.matches(lower) {
			return rule.kind
		}
	}
	return domain.KindUnknown
}

// classifyRunError turns a ProcessRunner failure into an ExtractionError.
func classifyRunError(err error, platformName string) *domain.ExtractionError {
	var (
		exitErr  *ports.ExitError
		spawnErr *ports.SpawnError
		sinkErr  *ports.SinkError
		ee       *domain.ExtractionError
	)
	kind := domain.KindUnknown
	stderr := ""
	switch {
	case errors.As(err, &ee):
		return ee
	case errors.As(err, &spawnErr):
		kind = domain.KindSpawn
	case errors.Is(err, ports.ErrProcessTimeout):
		kind = domain.KindTimeout
	case errors.Is(err, ports.ErrProcessCanceled):
		kind = domain.KindCanceled
	case errors.As(err, &sinkErr):
		kind = domain.KindCanceled
	case errors.As(err, &exitErr):
		stderr = exitErr.Stderr
		kind = ClassifyStderr(stderr)
	}
	return &domain.ExtractionError{
		Kind:     kind,
		Platform: platformName,
		Message:  userMessage(kind, platformName, stderr),
		Stderr:   stderr,
		Err:      err,
	}
}

func userMessage(kind domain.ErrorKind, platformName, stderr string) string {
	if platformName == "" {
		platformName = "The platform"
	}
	switch kind {
	case domain.KindAuthRequired:
		return fmt.Sprintf("%s requires sign-in for this video. Stored cookies are missing or expired; upload fresh cookies or enable automatic cookie extraction.", platformName)
	case domain.KindUnavailable:
		return "This video is unavailable. It may be private, deleted, or blocked in this region."
	case domain.KindRateLimited:
		return fmt.Sprintf("%s is rate limiting requests. Please try again in a few minutes.", platformName)
	case domain.KindTimeout:
		return fmt.Sprintf("Timed out while contacting %s.", platformName)
	case domain.KindNetwork:
		return fmt.Sprintf("Network error while contacting %s.", platformName)
	case domain.KindFormatNotFound:
		return "The requested format is not available for this video."
	case domain.KindUnsupportedURL:
		return "This URL is not supported."
	case domain.KindParse:
		return "Could not read the video information returned by the extractor."
	case domain.KindSpawn:
		return "The video extractor could not be started."
	case domain.KindCanceled:
		return "The request was canceled."
	}
	if line := lastErrorLine(stderr); line != "" {
		return "Extraction failed: " + line
	}
	return "Extraction failed."
}

// lastErrorLine returns the last "ERROR:" line yt-dlp printed, without the prefix.
func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if idx := strings.Index(lines[i], "ERROR:"); idx >= 0 {
			return strings.TrimSpace(lines[i][idx+len("ERROR:"):])
		}
	}
	return ""
}
