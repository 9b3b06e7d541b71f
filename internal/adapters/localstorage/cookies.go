package localstorage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/internal/platform"
)

const backupDirName = "backup"

// CookieStore implements ports.CookieStore on the local filesystem.
// Writers replace files atomically so concurrent readers see either the old
// or the new jar, never a partial one.
type CookieStore struct {
	BaseDir   string
	platforms *platform.Table
	now       func() time.Time
}

// NewCookieStore creates a store rooted at baseDir.
func NewCookieStore(baseDir string, platforms *platform.Table) *CookieStore {
	return &CookieStore{BaseDir: baseDir, platforms: platforms, now: time.Now}
}

// Path returns {BaseDir}/{platform}-cookies.txt.
func (s *CookieStore) Path(platformID string) string {
	return filepath.Join(s.BaseDir, platformID+"-cookies.txt")
}

// BackupDir returns the directory holding superseded jars.
func (s *CookieStore) BackupDir() string {
	return filepath.Join(s.BaseDir, backupDirName)
}

// Has reports whether path is a regular, non-empty file.
func (s *CookieStore) Has(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

// Load parses the jar stored for a platform.
func (s *CookieStore) Load(platformID string) ([]domain.Cookie, error) {
	data, err := os.ReadFile(s.Path(platformID))
	if err != nil {
		return nil, err
	}
	return ParseNetscape(data)
}

// Save keeps the cookies that belong to the platform and writes them as the
// platform's jar.
func (s *CookieStore) Save(ctx context.Context, platformID string, cookies []domain.Cookie) (string, error) {
	kept := cookies
	if p, ok := s.platforms.Get(platformID); ok && len(p.CookieDomainSuffixes) > 0 {
		kept = kept[:0:0]
		for _, c := range cookies {
			if p.AllowsCookieDomain(c.Domain) {
				kept = append(kept, c)
			}
		}
	}
	if len(kept) == 0 {
		return "", fmt.Errorf("no cookies for %s among %d received", platformID, len(cookies))
	}
	return s.replace(platformID, FormatNetscape(kept))
}

// SaveRaw stores an uploaded jar after checking it parses and is not empty.
func (s *CookieStore) SaveRaw(ctx context.Context, platformID string, data []byte) (string, error) {
	cookies, err := ParseNetscape(data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ports.ErrInvalidCookies, err)
	}
	if len(cookies) == 0 {
		return "", fmt.Errorf("%w: no cookies", ports.ErrInvalidCookies)
	}
	return s.replace(platformID, data)
}

// Status describes what is on disk for a platform. A missing file is not an
// error; it yields a zero-count material.
func (s *CookieStore) Status(platformID string) (*domain.CookieMaterial, error) {
	path := s.Path(platformID)
	m := &domain.CookieMaterial{
		Platform:    platformID,
		StorageForm: domain.StorageFile,
		Reference:   path,
	}
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	m.ModifiedAt = fi.ModTime().UTC()

	cookies, err := s.Load(platformID)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	m.CookieCount = len(cookies)

	p, known := s.platforms.Get(platformID)
	if known {
		m.Authenticated = p.LooksAuthenticated(cookies)
	} else {
		m.Authenticated = len(cookies) > 0
	}
	m.ExpiryEstimate = expiryEstimate(cookies, p)
	return m, nil
}

// expiryEstimate is the earliest persistent expiry among auth cookies, or
// among all cookies when none of the auth names are present.
func expiryEstimate(cookies []domain.Cookie, p *platform.Policy) *time.Time {
	isAuth := func(name string) bool {
		if p == nil {
			return false
		}
		for _, n := range p.AuthCookieNames {
			if n == name {
				return true
			}
		}
		return false
	}
	var earliest, earliestAuth int64
	for _, c := range cookies {
		if c.Expires <= 0 {
			continue
		}
		if earliest == 0 || c.Expires < earliest {
			earliest = c.Expires
		}
		if isAuth(c.Name) && (earliestAuth == 0 || c.Expires < earliestAuth) {
			earliestAuth = c.Expires
		}
	}
	if earliestAuth != 0 {
		earliest = earliestAuth
	}
	if earliest == 0 {
		return nil
	}
	t := time.Unix(earliest, 0).UTC()
	return &t
}

func (s *CookieStore) replace(platformID string, data []byte) (string, error) {
	if err := os.MkdirAll(s.BaseDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cookie directory %s: %w", s.BaseDir, err)
	}
	target := s.Path(platformID)
	if err := s.backup(platformID, target); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.BaseDir, "."+platformID+"-cookies-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp cookie file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write cookie file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync cookie file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close cookie file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return "", fmt.Errorf("failed to chmod cookie file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("failed to replace %s: %w", target, err)
	}
	return target, nil
}

func (s *CookieStore) backup(platformID, target string) error {
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read current cookie file: %w", err)
	}
	dir := s.BackupDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s-cookies-%s.txt", platformID, s.now().UTC().Format("20060102T150405.000000000Z"))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
		return fmt.Errorf("failed to back up cookie file: %w", err)
	}
	return nil
}
