package domain

import "time"

// AuthPreference controls whether cookie material is attached to an extraction.
type AuthPreference int

const (
	AuthAuto AuthPreference = iota
	AuthNone
)

// ExtractionRequest is created per API call and never persisted.
type ExtractionRequest struct {
	TargetURL         string         `json:"url"`
	RequestedFormatID string         `json:"format_id,omitempty"`
	AuthPreference    AuthPreference `json:"-"`
}

// VideoInfo is the normalized result of a metadata extraction.
type VideoInfo struct {
	ID         string   `json:"id,omitempty"`
	Title      string   `json:"title"`
	Thumbnail  string   `json:"thumbnail"`
	Duration   *float64 `json:"duration,omitempty"`
	Uploader   string   `json:"uploader,omitempty"`
	UploadDate string   `json:"upload_date,omitempty"`
	WebpageURL string   `json:"webpage_url,omitempty"`
	Platform   string   `json:"platform,omitempty"`
	Formats    []Format `json:"formats"`
}

// FindFormat returns the format with the given id.
func (v *VideoInfo) FindFormat(formatID string) (Format, bool) {
	for _, f := range v.Formats {
		if f.FormatID == formatID {
			return f, true
		}
	}
	return Format{}, false
}

// CodecNone marks an absent video or audio stream.
const CodecNone = "none"

// Format is one downloadable variant. FormatID is opaque and must be passed
// back to the stream pump unchanged.
type Format struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	Resolution     string   `json:"resolution,omitempty"` // "WxH", empty for audio-only
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	VideoCodec     string   `json:"vcodec"`
	AudioCodec     string   `json:"acodec"`
	Filesize       *int64   `json:"filesize,omitempty"`
	FilesizeApprox bool     `json:"filesize_approx,omitempty"` // estimate, unusable for byte ranges
	FPS            *float64 `json:"fps,omitempty"`
	Note           string   `json:"format_note,omitempty"`
}

func (f Format) HasVideo() bool { return f.VideoCodec != "" && f.VideoCodec != CodecNone }
func (f Format) HasAudio() bool { return f.AudioCodec != "" && f.AudioCodec != CodecNone }

// OrderedFormat is a format that passed platform filtering, with its label.
type OrderedFormat struct {
	Format
	Quality  string `json:"quality"`
	HasSound bool   `json:"has_audio"`
}

// StorageForm says how cookie material is referenced by the extractor.
type StorageForm string

const (
	StorageFile           StorageForm = "file"
	StorageBrowserProfile StorageForm = "browser"
)

// CookieMaterial describes authentication state for one platform.
type CookieMaterial struct {
	Platform       string      `json:"platform"`
	StorageForm    StorageForm `json:"storage_form"`
	Reference      string      `json:"reference"` // file path or browser name
	CookieCount    int         `json:"cookie_count"`
	Authenticated  bool        `json:"authenticated"`
	ModifiedAt     time.Time   `json:"modified_at,omitempty"`
	ExpiryEstimate *time.Time  `json:"expiry_estimate,omitempty"`
}

// Cookie is one entry of a Netscape cookie jar.
type Cookie struct {
	Domain   string `json:"domain"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path"`
	Expires  int64  `json:"expires"` // unix seconds, <= 0 for session cookies
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
}

// StreamSession is finalized exactly once, when the extractor process is gone.
type StreamSession struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	FormatID      string     `json:"format_id"`
	Platform      string     `json:"platform"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	BytesStreamed int64      `json:"bytes_streamed"`
	Success       bool       `json:"success"`
	ErrorReason   string     `json:"error_reason,omitempty"`
}

// StreamResult is what the stream pump reports to its caller.
type StreamResult struct {
	SessionID     string
	Success       bool
	BytesStreamed int64
	Duration      time.Duration
	Status        int  // status sent, or the one to send when HeadersSent is false
	HeadersSent   bool
	ClientGone    bool // client disconnected or a write failed
	Err           error
}

// JobStatus is the lifecycle state of a queued analysis.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// AnalysisJob is a queued info+ranking request.
type AnalysisJob struct {
	ID          string          `json:"job_id"`
	URL         string          `json:"url"`
	Platform    string          `json:"platform"`
	Status      JobStatus       `json:"status"`
	Info        *VideoInfo      `json:"info,omitempty"`
	Formats     []OrderedFormat `json:"formats,omitempty"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
