// Package download saves the full-size images behind records to disk.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/patrickjm/imgscout/internal/record"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

var ErrNoSource = errors.New("no source image url")

type Downloader struct {
	Dir     string
	Timeout time.Duration
	Client  *http.Client
	Logger  *log.Logger
}

func New(dir string, timeout time.Duration, logger *log.Logger) *Downloader {
	if logger == nil {
		logger = log.Default()
	}
	return &Downloader{Dir: dir, Timeout: timeout, Client: &http.Client{}, Logger: logger}
}

// Download fetches rec.SourceImageURL into Dir and sets rec.DownloadedPath.
func (d *Downloader) Download(ctx context.Context, rec *record.Record) error {
	return d.download(ctx, rec, nil)
}

// download skips file names already in used, which holds the names written
// earlier in the same batch.
func (d *Downloader) download(ctx context.Context, rec *record.Record, used map[string]struct{}) error {
	if rec.SourceImageURL == "" {
		return fmt.Errorf("%s: %w", rec.ID, ErrNoSource)
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	d.Logger.Debug("downloading", "url", rec.SourceImageURL)
	body, err := d.fetch(ctx, rec.SourceImageURL)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return fmt.Errorf("download timed out for %s: %w", rec.SourceImageURL, err)
		}
		return fmt.Errorf("failed to download %s: %w", rec.SourceImageURL, err)
	}
	base, ext := FileName(*rec), extension(rec.SourceImageURL, rec.FileType, body)
	name := base + ext
	if _, taken := used[name]; taken {
		name = base + "_" + safeID(rec.ID) + ext
	}
	target := filepath.Join(d.Dir, name)
	if err := os.WriteFile(target, body, 0o644); err != nil {
		return fmt.Errorf("unexpected error saving %s: %w", rec.SourceImageURL, err)
	}
	if used != nil {
		used[name] = struct{}{}
	}
	rec.DownloadedPath = target
	d.Logger.Info("downloaded", "path", target, "bytes", len(body))
	return nil
}

func (d *Downloader) fetch(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Report partitions a batch of downloads.
type Report struct {
	Succeeded int
	Failed    []string
}

type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

func (r Report) Status() Status {
	switch {
	case len(r.Failed) == 0:
		return StatusComplete
	case r.Succeeded > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}

func (r Report) Summary() string {
	switch r.Status() {
	case StatusComplete:
		return fmt.Sprintf("Downloaded %d images.", r.Succeeded)
	case StatusPartial:
		return fmt.Sprintf("Downloaded %d images. Failed to download %d images:\n%s", r.Succeeded, len(r.Failed), strings.Join(r.Failed, "\n"))
	default:
		return fmt.Sprintf("Failed to download all selected images:\n%s", strings.Join(r.Failed, "\n"))
	}
}

// DownloadAll downloads each record in turn; one failure does not stop the
// batch.
func (d *Downloader) DownloadAll(ctx context.Context, records []*record.Record) Report {
	var report Report
	used := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if err := d.download(ctx, rec, used); err != nil {
			d.Logger.Warn("download failed", "id", rec.ID, "err", err)
			report.Failed = append(report.Failed, fmt.Sprintf("%s: %v", label(*rec), err))
			continue
		}
		report.Succeeded++
	}
	return report
}

// FileName keeps letters, digits, spaces and hyphens of the title, falling
// back to the id filtered the same way.
func FileName(rec record.Record) string {
	if name := strings.TrimRight(keepSafe(rec.Title), " "); name != "" {
		return name
	}
	return "image_" + safeID(rec.ID)
}

func safeID(id string) string {
	if s := strings.TrimSpace(keepSafe(id)); s != "" {
		return s
	}
	return uuid.NewString()
}

func keepSafe(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func extension(src string, fileType string, body []byte) string {
	if u, err := url.Parse(src); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if fileType != "" {
		return "." + strings.ToLower(fileType)
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(body)); err == nil {
		if format == "jpeg" {
			return ".jpg"
		}
		return "." + format
	}
	return ".jpg"
}

func label(rec record.Record) string {
	if rec.Title != "" {
		return rec.Title
	}
	return rec.ID
}
