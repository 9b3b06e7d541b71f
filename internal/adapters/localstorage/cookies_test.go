package localstorage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/platform"
)

const sampleJar = `# Netscape HTTP Cookie File
# comment line

.youtube.com	TRUE	/	TRUE	1893456000	SAPISID	abc
#HttpOnly_.youtube.com	TRUE	/	TRUE	1800000000	LOGIN_INFO	xyz
www.youtube.com	FALSE	/	FALSE		PREF	f6=8
`

func newStore(t *testing.T) *CookieStore {
	t.Helper()
	s := NewCookieStore(t.TempDir(), platform.Default("youtube"))
	tick := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return s
}

func TestParseNetscape(t *testing.T) {
	cookies, err := ParseNetscape([]byte(sampleJar))
	if err != nil {
		t.Fatalf("ParseNetscape() error = %v", err)
	}
	if len(cookies) != 3 {
		t.Fatalf("len = %d, want 3", len(cookies))
	}
	if !cookies[1].HTTPOnly || cookies[1].Domain != ".youtube.com" || cookies[1].Name != "LOGIN_INFO" {
		t.Fatalf("httponly cookie parsed as %+v", cookies[1])
	}
	if cookies[2].Expires != 0 || cookies[2].Secure {
		t.Fatalf("session cookie parsed as %+v", cookies[2])
	}
}

func TestParseNetscapeRejectsGarbage(t *testing.T) {
	if _, err := ParseNetscape([]byte("this is not\ta cookie file")); err == nil {
		t.Fatal("ParseNetscape() error = nil, want error")
	}
}

func TestFormatNetscapeFlags(t *testing.T) {
	out := string(FormatNetscape([]domain.Cookie{
		{Domain: ".tiktok.com", Name: "sessionid", Value: "v", Secure: true, Expires: 1900000000},
		{Domain: "www.tiktok.com", Name: "tt", Value: "w", HTTPOnly: true},
	}))
	if !strings.HasPrefix(out, netscapeHeader) {
		t.Fatalf("missing header: %q", out)
	}
	if !strings.Contains(out, ".tiktok.com\tTRUE\t/\tTRUE\t1900000000\tsessionid\tv\n") {
		t.Fatalf("persistent cookie line missing: %q", out)
	}
	if !strings.Contains(out, "#HttpOnly_www.tiktok.com\tFALSE\t/\tFALSE\t\ttt\tw\n") {
		t.Fatalf("session cookie line missing: %q", out)
	}
}

func TestFormatNetscapeSkipsControlCharacters(t *testing.T) {
	out := FormatNetscape([]domain.Cookie{
		{Domain: ".tiktok.com", Name: "ok", Value: "v"},
		{Domain: ".tiktok.com", Name: "evil", Value: "x\n.evil.com\tTRUE\t/\tFALSE\t\tinjected\t1"},
		{Domain: ".tiktok.com", Name: "tab\tname", Value: "v"},
		{Domain: ".tiktok.com", Name: "p", Value: "v", Path: "/\r"},
	})
	cookies, err := ParseNetscape(out)
	if err != nil {
		t.Fatalf("ParseNetscape() error = %v", err)
	}
	if len(cookies) != 1 || cookies[0].Name != "ok" {
		t.Fatalf("cookies = %+v, want only %q", cookies, "ok")
	}
	if strings.Contains(string(out), "injected") {
		t.Fatalf("jar contains injected line: %q", out)
	}
}

func TestHasRequiresNonEmptyFile(t *testing.T) {
	s := newStore(t)
	empty := filepath.Join(s.BaseDir, "empty.txt")
	if err := os.WriteFile(empty, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if s.Has(empty) {
		t.Fatal("Has(empty file) = true")
	}
	if s.Has(filepath.Join(s.BaseDir, "missing.txt")) {
		t.Fatal("Has(missing file) = true")
	}
	if s.Has("") {
		t.Fatal("Has(\"\") = true")
	}
}

func TestSaveFiltersDomainsAndBacksUp(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := []domain.Cookie{
		{Domain: ".youtube.com", Name: "SID", Value: "1", Expires: 1900000000},
		{Domain: ".tracker.example", Name: "x", Value: "y"},
	}
	path, err := s.Save(ctx, "youtube", first)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if path != s.Path("youtube") || filepath.Base(path) != "youtube-cookies.txt" {
		t.Fatalf("path = %q", path)
	}
	got, err := s.Load("youtube")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "SID" {
		t.Fatalf("stored cookies = %+v, want only SID", got)
	}

	if _, err := s.Save(ctx, "youtube", []domain.Cookie{{Domain: ".youtube.com", Name: "SID", Value: "2"}}); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	backups, err := os.ReadDir(s.BackupDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 1 || !strings.HasPrefix(backups[0].Name(), "youtube-cookies-") {
		t.Fatalf("backups = %v, want one youtube backup", backups)
	}
	old, _ := os.ReadFile(filepath.Join(s.BackupDir(), backups[0].Name()))
	if !strings.Contains(string(old), "\tSID\t1\n") {
		t.Fatalf("backup does not hold previous jar: %q", old)
	}

	entries, _ := os.ReadDir(s.BaseDir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSaveRejectsForeignCookies(t *testing.T) {
	s := newStore(t)
	_, err := s.Save(context.Background(), "youtube", []domain.Cookie{{Domain: ".example.com", Name: "a", Value: "b"}})
	if err == nil {
		t.Fatal("Save() error = nil, want error for no matching cookies")
	}
	if s.Has(s.Path("youtube")) {
		t.Fatal("cookie file written despite error")
	}
}

func TestSaveRawAndStatus(t *testing.T) {
	s := newStore(t)
	if _, err := s.SaveRaw(context.Background(), "youtube", []byte("# only comments\n")); err == nil {
		t.Fatal("SaveRaw(empty jar) error = nil")
	}
	if _, err := s.SaveRaw(context.Background(), "youtube", []byte(sampleJar)); err != nil {
		t.Fatalf("SaveRaw() error = %v", err)
	}
	m, err := s.Status("youtube")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if m.CookieCount != 3 || !m.Authenticated {
		t.Fatalf("status = %+v", m)
	}
	if m.ExpiryEstimate == nil || m.ExpiryEstimate.Unix() != 1800000000 {
		t.Fatalf("expiry = %v, want earliest auth cookie expiry", m.ExpiryEstimate)
	}

	missing, err := s.Status("tiktok")
	if err != nil || missing.CookieCount != 0 {
		t.Fatalf("Status(missing) = %+v, %v", missing, err)
	}
}
