package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"icsagenda/internal/fsutil"
	appLog "icsagenda/internal/log"
)

// FetchTimeout bounds a single feed fetch, body included.
const FetchTimeout = 30 * time.Second

// ErrorKind classifies why a fetch failed.
type ErrorKind int

const (
	KindTransport ErrorKind = iota + 1
	KindTimeout
	KindHTTPStatus
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http_status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// FetchError is returned by Fetcher.Fetch for every failure.
type FetchError struct {
	Kind ErrorKind
	// URL is already redacted.
	URL string
	// StatusCode is set for KindHTTPStatus.
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s: %s: status %d", e.URL, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher performs single blocking GETs of ICS feeds. It does not retry:
// a failed feed is simply tried again on the next sync cycle.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client. When its Timeout is unset the
// Fetcher uses a copy with FetchTimeout; c itself is never modified.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithCacheDir enables conditional GET. Bodies and their ETag/Last-Modified
// are kept in per-URL subdirectories of dir and reused on 304 Not Modified.
func WithCacheDir(dir string) Option {
	return func(f *Fetcher) {
		f.cacheDir = dir
	}
}

// NewFetcher creates a new ICS Fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.client.Timeout == 0 {
		c := *f.client
		c.Timeout = FetchTimeout
		f.client = &c
	}
	return f
}

// Fetch downloads url and returns its body as text. Errors are always
// *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	redacted := RedactURL(rawURL)

	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &FetchError{Kind: KindTransport, URL: redacted, Err: err}
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	var (
		cachePath  string
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(rawURL)
		if meta, err := loadCacheMeta(cachePath); err == nil {
			cachedBody, _ = loadCacheBody(cachePath)
			// Conditional headers only make sense with a body to fall back on.
			if len(cachedBody) > 0 {
				if meta.ETag != "" {
					req.Header.Set("If-None-Match", meta.ETag)
				}
				if meta.LastModified != "" {
					req.Header.Set("If-Modified-Since", meta.LastModified)
				}
			}
		}
	}

	appLog.Debug("ics fetch start", "url", redacted)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{Kind: classify(err), URL: redacted, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && len(cachedBody) > 0:
		appLog.Debug("ics fetch not modified; using cache", "url", redacted)
		return strings.ToValidUTF8(string(cachedBody), "\uFFFD"), nil

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", &FetchError{
			Kind:       KindHTTPStatus,
			URL:        redacted,
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	}

	body, err := readBody(resp)
	if err != nil {
		kind := KindDecode
		if isTimeout(err) {
			kind = KindTimeout
		}
		return "", &FetchError{Kind: kind, URL: redacted, Err: err}
	}

	if cachePath != "" {
		meta := cacheEntry{
			URL:          rawURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if meta.ETag != "" || meta.LastModified != "" {
			if err := saveCache(cachePath, meta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("ics cache save failed", err, "url", redacted)
			}
		}
	}

	appLog.Debug("ics fetch success", "url", redacted, "status", resp.StatusCode, "bytes", len(body))
	return strings.ToValidUTF8(string(body), "\uFFFD"), nil
}

// readBody reads the response, transcoding to UTF-8 when Content-Type
// names another charset.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if _, params, err := mime.ParseMediaType(ct); err == nil {
			if label := strings.ToLower(strings.TrimSpace(params["charset"])); label != "" && label != "utf-8" && label != "utf8" && label != "us-ascii" {
				enc, err := htmlindex.Get(label)
				if err != nil {
					return nil, fmt.Errorf("charset %q: %w", label, err)
				}
				r = enc.NewDecoder().Reader(r)
			}
		}
	}

	return io.ReadAll(r)
}

func classify(err error) ErrorKind {
	if isTimeout(err) {
		return KindTimeout
	}
	return KindTransport
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return err
	}

	// Write body first so meta never points at missing body.
	if err := fsutil.WriteFileAtomic(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// RedactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
