package service

import (
	"context"
	"sync"
	"sync/atomic"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
)

type runFunc func(ctx context.Context, args []string, opts ports.RunOptions) (*ports.RunResult, error)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fn    runFunc
}

func (f *fakeRunner) Run(ctx context.Context, args []string, opts ports.RunOptions) (*ports.RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if f.fn == nil {
		return &ports.RunResult{}, nil
	}
	return f.fn(ctx, args, opts)
}

func (f *fakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func exitWith(stderr string) error {
	return &ports.ExitError{Code: 1, Stderr: stderr}
}

type fakeCookieStore struct {
	mu      sync.Mutex
	present map[string]bool
	saved   map[string][]domain.Cookie
	saveErr error
}

func newFakeCookieStore(platforms ...string) *fakeCookieStore {
	s := &fakeCookieStore{present: map[string]bool{}, saved: map[string][]domain.Cookie{}}
	for _, p := range platforms {
		s.present[s.Path(p)] = true
	}
	return s
}

func (s *fakeCookieStore) Path(platform string) string {
	return "/cookies/" + platform + "-cookies.txt"
}

func (s *fakeCookieStore) Has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present[path]
}

func (s *fakeCookieStore) addFile(path string) {
	s.mu.Lock()
	s.present[path] = true
	s.mu.Unlock()
}

func (s *fakeCookieStore) Save(ctx context.Context, platform string, cookies []domain.Cookie) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[s.Path(platform)] = true
	s.saved[platform] = cookies
	return s.Path(platform), nil
}

func (s *fakeCookieStore) SaveRaw(ctx context.Context, platform string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ports.ErrInvalidCookies
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[s.Path(platform)] = true
	return s.Path(platform), nil
}

func (s *fakeCookieStore) Status(platform string) (*domain.CookieMaterial, error) {
	m := &domain.CookieMaterial{Platform: platform, StorageForm: domain.StorageFile, Reference: s.Path(platform)}
	if s.Has(s.Path(platform)) {
		m.CookieCount = 1
	}
	return m, nil
}

type fakeRemote struct {
	calls   atomic.Int32
	cookies []domain.Cookie
	err     error
}

func (f *fakeRemote) ExtractCookies(ctx context.Context, req ports.ExtractCookiesRequest) ([]domain.Cookie, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.cookies, nil
}

func (f *fakeRemote) Health(ctx context.Context) error { return f.err }

type fakeRecorder struct {
	mu       sync.Mutex
	sessions []*domain.StreamSession
}

func (f *fakeRecorder) Record(ctx context.Context, s *domain.StreamSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeRecorder) Sessions() []*domain.StreamSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.StreamSession(nil), f.sessions...)
}

const youtubeInfoJSON = `{"id":"X","title":"Test / Video: 1","thumbnail":"https://i.ytimg.com/vi/X/hq.jpg","duration":212.0,"uploader":"chan","upload_date":"20240101","formats":[` +
	`{"format_id":"18","ext":"mp4","width":640,"height":360,"vcodec":"avc1.42001E","acodec":"mp4a.40.2","filesize":5000},` +
	`{"format_id":"137","ext":"mp4","width":1920,"height":1080,"vcodec":"avc1.640028","acodec":"none","filesize_approx":90000},` +
	`{"format_id":"140","ext":"m4a","vcodec":"none","acodec":"mp4a.40.2","resolution":"audio only"},` +
	`{"format_id":"sb0","ext":"mhtml","vcodec":"none","acodec":"none"}]}`
