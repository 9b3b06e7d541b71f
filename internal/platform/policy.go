package platform

import (
	"net/url"
	"sort"
	"strings"

	"vidstream/internal/core/domain"
)

// Unknown is the id reported for URLs that match no policy.
const Unknown = "unknown"

// Policy holds everything that differs between content platforms.
type Policy struct {
	ID   string
	Name string

	// MatchHosts are matched against the URL host and its parent domains.
	MatchHosts []string

	// CookieDomainSuffixes restricts which cookies are written to the jar.
	CookieDomainSuffixes []string

	// AuthCookieNames indicate a logged-in session when present.
	AuthCookieNames []string

	// TestURL is a known-good canary used to validate cookies.
	TestURL string

	// ExtractorArgs is passed as --extractor-args when non-empty.
	ExtractorArgs string

	// Referer is sent when the caller supplies none.
	Referer string

	// Primary platforms allow video-only formats, merged with best audio at stream time.
	Primary bool
}

// MatchesURL reports whether rawURL belongs to the platform.
func (p *Policy) MatchesURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, h := range p.MatchHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// AllowsCookieDomain reports whether a cookie for domain belongs in this jar.
func (p *Policy) AllowsCookieDomain(domain string) bool {
	d := strings.TrimPrefix(strings.ToLower(domain), ".")
	for _, suffix := range p.CookieDomainSuffixes {
		s := strings.TrimPrefix(strings.ToLower(suffix), ".")
		if d == s || strings.HasSuffix(d, "."+s) {
			return true
		}
	}
	return false
}

// LooksAuthenticated reports whether cookies contain any auth cookie name.
func (p *Policy) LooksAuthenticated(cookies []domain.Cookie) bool {
	if len(p.AuthCookieNames) == 0 {
		return len(cookies) > 0
	}
	for _, c := range cookies {
		for _, name := range p.AuthCookieNames {
			if c.Name == name {
				return true
			}
		}
	}
	return false
}

// FormatAllowed applies the per-platform format policy. Container and id
// checks shared by all platforms happen before this is consulted.
func (p *Policy) FormatAllowed(f domain.Format) bool {
	if p.Primary {
		return f.Height >= 360
	}
	return f.HasVideo() && strings.EqualFold(f.Ext, "mp4") && f.Height > 0 && f.Height >= 360
}

// MergesOutput reports whether streams should be remuxed into mp4.
func (p *Policy) MergesOutput() bool {
	return p.Primary
}

// Table is an immutable lookup of platform policies.
type Table struct {
	byID    map[string]*Policy
	ordered []*Policy
}

// NewTable builds a table. primary names the platform that gets the
// video-only-allowed format policy.
func NewTable(policies []Policy, primary string) *Table {
	t := &Table{byID: make(map[string]*Policy, len(policies))}
	for i := range policies {
		p := policies[i]
		p.Primary = p.ID == primary
		t.byID[p.ID] = &p
		t.ordered = append(t.ordered, &p)
	}
	return t
}

// Default returns the built-in table.
func Default(primary string) *Table {
	return NewTable(builtin, primary)
}

// Get returns the policy for id.
func (t *Table) Get(id string) (*Policy, bool) {
	p, ok := t.byID[id]
	return p, ok
}

// ForURL returns the policy for rawURL, or nil when no platform matches.
func (t *Table) ForURL(rawURL string) *Policy {
	for _, p := range t.ordered {
		if p.MatchesURL(rawURL) {
			return p
		}
	}
	return nil
}

// Detect returns the platform id for rawURL or Unknown.
func (t *Table) Detect(rawURL string) string {
	if p := t.ForURL(rawURL); p != nil {
		return p.ID
	}
	return Unknown
}

// IDs returns the known platform ids in sorted order.
func (t *Table) IDs() []string {
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns policies in match order.
func (t *Table) All() []*Policy {
	return t.ordered
}

var builtin = []Policy{
	{
		ID:                   "youtube",
		Name:                 "YouTube",
		MatchHosts:           []string{"youtube.com", "youtu.be", "youtube-nocookie.com"},
		CookieDomainSuffixes: []string{"youtube.com", "google.com"},
		AuthCookieNames:      []string{"SAPISID", "__Secure-3PAPISID", "SID", "LOGIN_INFO"},
		TestURL:              "https://www.youtube.com/watch?v=jNQXAC9IVRw",
		ExtractorArgs:        "youtube:skip=hls",
	},
	{
		ID:                   "tiktok",
		Name:                 "TikTok",
		MatchHosts:           []string{"tiktok.com"},
		CookieDomainSuffixes: []string{"tiktok.com"},
		AuthCookieNames:      []string{"sessionid", "sid_tt"},
		TestURL:              "https://www.tiktok.com/@tiktok/video/7106594312292453675",
		Referer:              "https://www.tiktok.com/",
	},
	{
		ID:                   "instagram",
		Name:                 "Instagram",
		MatchHosts:           []string{"instagram.com"},
		CookieDomainSuffixes: []string{"instagram.com"},
		AuthCookieNames:      []string{"sessionid", "ds_user_id"},
		TestURL:              "https://www.instagram.com/p/CUbHfhpswxt/",
	},
	{
		ID:                   "twitter",
		Name:                 "X (Twitter)",
		MatchHosts:           []string{"twitter.com", "x.com"},
		CookieDomainSuffixes: []string{"twitter.com", "x.com"},
		AuthCookieNames:      []string{"auth_token", "ct0"},
		TestURL:              "https://x.com/X/status/1585341984679469056",
	},
	{
		ID:                   "facebook",
		Name:                 "Facebook",
		MatchHosts:           []string{"facebook.com", "fb.watch"},
		CookieDomainSuffixes: []string{"facebook.com"},
		AuthCookieNames:      []string{"c_user", "xs"},
		TestURL:              "https://www.facebook.com/watch/?v=10153231379946729",
	},
	{
		ID:                   "vimeo",
		Name:                 "Vimeo",
		MatchHosts:           []string{"vimeo.com"},
		CookieDomainSuffixes: []string{"vimeo.com"},
		AuthCookieNames:      []string{"vimeo"},
		TestURL:              "https://vimeo.com/76979871",
	},
	{
		ID:                   "dailymotion",
		Name:                 "Dailymotion",
		MatchHosts:           []string{"dailymotion.com", "dai.ly"},
		CookieDomainSuffixes: []string{"dailymotion.com"},
		TestURL:              "https://www.dailymotion.com/video/x7tgad0",
	},
	{
		ID:                   "twitch",
		Name:                 "Twitch",
		MatchHosts:           []string{"twitch.tv"},
		CookieDomainSuffixes: []string{"twitch.tv"},
		AuthCookieNames:      []string{"auth-token"},
		TestURL:              "https://www.twitch.tv/videos/6528877",
	},
	{
		ID:                   "reddit",
		Name:                 "Reddit",
		MatchHosts:           []string{"reddit.com", "redd.it"},
		CookieDomainSuffixes: []string{"reddit.com"},
		AuthCookieNames:      []string{"reddit_session"},
		TestURL:              "https://www.reddit.com/r/videos/comments/6rrwyj/",
	},
	{
		ID:                   "bilibili",
		Name:                 "Bilibili",
		MatchHosts:           []string{"bilibili.com", "b23.tv"},
		CookieDomainSuffixes: []string{"bilibili.com"},
		AuthCookieNames:      []string{"SESSDATA"},
		TestURL:              "https://www.bilibili.com/video/BV1xx411c7mD",
	},
}
