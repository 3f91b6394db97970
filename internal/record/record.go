// Package record holds the normalized search result and helpers for keeping
// a collection of them free of duplicate ids.
package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Record struct {
	ID             string     `json:"id"`
	Title          string     `json:"title,omitempty"`
	Size           string     `json:"size,omitempty"`
	FileType       string     `json:"file_type,omitempty"`
	SourceDomain   string     `json:"source_domain,omitempty"`
	SourceImageURL string     `json:"source_image_url,omitempty"`
	AgeText        string     `json:"age_text,omitempty"`
	AgeDays        *int       `json:"age_days,omitempty"`
	DateText       string     `json:"date_text,omitempty"`
	ParsedDate     *time.Time `json:"parsed_date,omitempty"`
	Thumbnail      []byte     `json:"thumbnail,omitempty"`
	DownloadedPath string     `json:"downloaded_path,omitempty"`
}

// Dimensions parses Size back into width and height.
func (r Record) Dimensions() (int, int, error) {
	if r.Size == "" {
		return 0, 0, fmt.Errorf("record %s: no size", r.ID)
	}
	w, h, ok := strings.Cut(r.Size, " x ")
	if !ok {
		return 0, 0, fmt.Errorf("record %s: malformed size %q", r.ID, r.Size)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return 0, 0, fmt.Errorf("record %s: width: %w", r.ID, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return 0, 0, fmt.Errorf("record %s: height: %w", r.ID, err)
	}
	return width, height, nil
}

func (r Record) String() string {
	title := r.Title
	if title == "" {
		title = "N/A"
	}
	return fmt.Sprintf("%s %q size=%s type=%s source=%s", r.ID, title, orNA(r.Size), orNA(r.FileType), orNA(r.SourceDomain))
}

// Merge appends the incoming records whose id is not already present and
// returns the grown slice and the number added.
func Merge(existing []Record, incoming []Record) ([]Record, int) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = struct{}{}
	}
	added := 0
	for _, r := range incoming {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		existing = append(existing, r)
		added++
	}
	return existing, added
}

// CivilDate truncates t to midnight UTC of its calendar day.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
