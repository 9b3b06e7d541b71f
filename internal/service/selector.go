package service

import (
	"fmt"
	"sort"
	"strings"

	"vidstream/internal/core/domain"
	"vidstream/internal/platform"
)

var supportedContainers = map[string]bool{
	"mp4": true, "webm": true, "mkv": true, "avi": true,
	"mov": true, "m4a": true, "mp3": true, "wav": true,
}

// IsSupportedFormat reports whether ext is a container the service will serve.
func IsSupportedFormat(ext string) bool {
	return supportedContainers[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// SelectFormats filters info's formats by the platform policy and ranks
// them: formats with audio first, then by height descending, input order
// breaking ties. A nil policy gets the non-primary rules.
func SelectFormats(info *domain.VideoInfo, policy *platform.Policy) []domain.OrderedFormat {
	if info == nil {
		return nil
	}
	if policy == nil {
		policy = &platform.Policy{ID: platform.Unknown}
	}
	out := make([]domain.OrderedFormat, 0, len(info.Formats))
	for _, f := range info.Formats {
		if f.FormatID == "" || f.Ext == "" || !IsSupportedFormat(f.Ext) {
			continue
		}
		if !policy.FormatAllowed(f) {
			continue
		}
		out = append(out, domain.OrderedFormat{
			Format:   f,
			Quality:  QualityLabel(f.Height, f.HasAudio()),
			HasSound: f.HasAudio(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HasSound != out[j].HasSound {
			return out[i].HasSound
		}
		return out[i].Height > out[j].Height
	})
	return out
}

// QualityLabel maps a height to a display label with an audio indicator.
func QualityLabel(height int, hasAudio bool) string {
	base := fmt.Sprintf("%dp", height)
	if height >= 2160 && height < 2880 {
		base = "4K"
	}
	if hasAudio {
		return base + " (video + audio)"
	}
	return base + " (video only)"
}
