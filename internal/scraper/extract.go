package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/patrickjm/imgscout/internal/record"
)

var ErrNoPayload = errors.New("no result payload")

const tooltipDateLayout = "1/2/2006"

var (
	sizePattern = regexp.MustCompile(`(\d+)\s*x\s*(\d+)`)
	agePattern  = regexp.MustCompile(`(\d+)\s+(day|week|month|year)s?`)
	// Month and year are approximations.
	ageUnitDays = map[string]int{"day": 1, "week": 7, "month": 30, "year": 365}
)

// payload is the JSON carried in the result anchor's "m" attribute.
type payload map[string]any

// extractRecord builds a record from one result element's outer HTML.
func extractRecord(id string, html string) (record.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return record.Record{}, fmt.Errorf("parse element %s: %w", id, err)
	}
	m, err := readPayload(doc)
	if err != nil {
		return record.Record{}, fmt.Errorf("element %s: %w", id, err)
	}
	rec := recordFromPayload(id, m)
	applyAge(&rec, doc.Find(".ppdatr").First())
	return rec, nil
}

func readPayload(doc *goquery.Document) (payload, error) {
	anchor := doc.Find("a").First()
	if anchor.Length() == 0 {
		return nil, fmt.Errorf("%w: no anchor", ErrNoPayload)
	}
	raw, ok := anchor.Attr("m")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty m attribute", ErrNoPayload)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var m payload
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPayload, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: null payload", ErrNoPayload)
	}
	return m, nil
}

func recordFromPayload(id string, m payload) record.Record {
	rec := record.Record{
		ID:             id,
		Title:          m.text("t"),
		SourceImageURL: m.text("murl"),
		FileType:       m.text("f"),
	}
	if purl := m.text("purl"); purl != "" {
		if u, err := url.Parse(purl); err == nil {
			rec.SourceDomain = u.Host
		}
	}
	rec.Size = sizeOf(m)
	return rec
}

func sizeOf(m payload) string {
	w, h := m.text("w"), m.text("h")
	if nonZero(w) && nonZero(h) {
		return w + " x " + h
	}
	s := m.text("s")
	if s == "" {
		return ""
	}
	if match := sizePattern.FindStringSubmatch(s); match != nil {
		return match[1] + " x " + match[2]
	}
	return s
}

func applyAge(rec *record.Record, node *goquery.Selection) {
	if node.Length() == 0 {
		return
	}
	rec.AgeText = strings.TrimSpace(node.Text())
	if days, ok := parseAgeDays(rec.AgeText); ok {
		rec.AgeDays = &days
	}
	if tooltip, ok := node.Attr("title"); ok {
		tooltip = strings.TrimSpace(tooltip)
		if d, err := time.Parse(tooltipDateLayout, tooltip); err == nil {
			rec.ParsedDate = &d
			rec.DateText = tooltip
		}
	}
}

// parseAgeDays converts "3 weeks ago" style text into an approximate day count.
func parseAgeDays(text string) (int, bool) {
	match := agePattern.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return n * ageUnitDays[match[2]], true
}

func (m payload) text(key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// nonZero reports whether v is a number other than zero.
func nonZero(v string) bool {
	f, err := strconv.ParseFloat(v, 64)
	return err == nil && f != 0
}
