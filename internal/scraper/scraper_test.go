package scraper

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/patrickjm/imgscout/internal/browser"
	"github.com/patrickjm/imgscout/internal/record"
)

func fakeResult(id string) *browser.FakeElement {
	m := fmt.Sprintf(`{"t":"Image %s","murl":"https://img.example/%s.jpg","purl":"https://site.example/%s","w":640,"h":480}`, id, id, id)
	return &browser.FakeElement{
		Attrs: map[string]string{idAttribute: id},
		HTML:  resultHTML(id, m, ""),
		Shot:  []byte("png-" + id),
	}
}

func batch(ids ...string) []browser.Element {
	out := make([]browser.Element, 0, len(ids))
	for _, id := range ids {
		out = append(out, fakeResult(id))
	}
	return out
}

func newTestScraper(page func() *browser.FakePage) (*Scraper, *browser.FakeEngine) {
	engine := &browser.FakeEngine{NewPageFn: page}
	s := New(engine, DefaultOptions(), log.New(io.Discard))
	s.sleep = func(time.Duration) {}
	return s, engine
}

func ids(records []record.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestSearchOpensSessionAndDismissesOverlays(t *testing.T) {
	s, engine := newTestScraper(func() *browser.FakePage {
		return &browser.FakePage{Batches: [][]browser.Element{batch("0")}, Heights: []int{1000}}
	})
	if err := s.Search("red cats"); err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(engine.Started) != 1 {
		t.Fatalf("expected one session, got %d", len(engine.Started))
	}
	opts := engine.Started[0]
	if !opts.Headless || opts.ViewportWidth != 1920 || opts.ViewportHeight != 1080 {
		t.Fatalf("unexpected start options: %+v", opts)
	}
	page := engine.Session.Pages[0]
	if len(page.Visits) != 1 || page.Visits[0] != DefaultEndpoint+"?q=red+cats" {
		t.Fatalf("unexpected visits: %v", page.Visits)
	}
	if len(page.Clicks) != 1 || page.Clicks[0] != consentButton {
		t.Fatalf("expected consent click, got %v", page.Clicks)
	}
	if len(page.Keys) != 1 || page.Keys[0] != escapeKey {
		t.Fatalf("expected escape, got %v", page.Keys)
	}
	if !s.Status().Ready {
		t.Fatalf("expected ready session")
	}
}

func TestSearchToleratesMissingConsent(t *testing.T) {
	s, engine := newTestScraper(func() *browser.FakePage {
		return &browser.FakePage{ClickErr: fmt.Errorf("%w: no banner", browser.ErrTimeout)}
	})
	if err := s.Search("cats"); err != nil {
		t.Fatalf("search: %v", err)
	}
	page := engine.Session.Pages[0]
	if len(page.Keys) != 1 {
		t.Fatalf("expected escape to be sent, got %v", page.Keys)
	}
	for _, w := range page.Waits {
		if strings.Contains(w, consentContainer) {
			t.Fatalf("did not expect wait for banner container: %v", page.Waits)
		}
	}
}

func TestSearchTimeoutYieldsNoResults(t *testing.T) {
	s, engine := newTestScraper(func() *browser.FakePage {
		return &browser.FakePage{
			Batches: [][]browser.Element{batch("0", "1")},
			WaitErr: map[string]error{DefaultResultSelector: fmt.Errorf("%w: 10000ms", browser.ErrTimeout)},
		}
	})
	if err := s.Search("cats"); err != nil {
		t.Fatalf("expected silent timeout, got %v", err)
	}
	records, err := s.Collect(10)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
	if len(engine.Session.Pages[0].Clicks) != 0 {
		t.Fatalf("overlay dismissal should not run before results load")
	}
}

func TestSearchStartFailure(t *testing.T) {
	engine := &browser.FakeEngine{StartErr: errors.New("driver missing")}
	s := New(engine, DefaultOptions(), log.New(io.Discard))
	if err := s.Search("cats"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := s.Collect(5); err == nil {
		t.Fatalf("expected collect without search to fail")
	}
}

func TestNewSearchReplacesSessionAndResetsDedup(t *testing.T) {
	s, engine := newTestScraper(func() *browser.FakePage {
		return &browser.FakePage{Batches: [][]browser.Element{batch("0", "1", "2")}, Heights: []int{1000}}
	})
	if err := s.Search("cats"); err != nil {
		t.Fatalf("search: %v", err)
	}
	first, _ := s.Collect(10)
	if err := s.Search("dogs"); err != nil {
		t.Fatalf("search: %v", err)
	}
	if !engine.Sessions[0].Closed {
		t.Fatalf("expected previous session to be closed")
	}
	second, _ := s.Collect(10)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 records per search, got %d and %d", len(first), len(second))
	}
	if s.Status().Query != "dogs" {
		t.Fatalf("unexpected query %q", s.Status().Query)
	}
}

func TestCollectStopsOnStall(t *testing.T) {
	s, engine := newTestScraper(func() *browser.FakePage {
		return &browser.FakePage{Batches: [][]browser.Element{batch("0", "1", "2")}, Heights: []int{1000}}
	})
	_ = s.Search("cats")
	records, err := s.Collect(10)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if scrolls := engine.Session.Pages[0].Scrolls; scrolls != 1 {
		t.Fatalf("expected a single scroll before stall, got %d", scrolls)
	}
}

func TestCollectScrollsUntilTarget(t *testing.T) {
	s, engine := newTestScraper(func() *browser.FakePage {
		return &browser.FakePage{
			Batches: [][]browser.Element{batch("0", "1"), batch("0", "1", "2", "3"), batch("0", "1", "2", "3", "4", "5")},
			Heights: []int{1000, 2000, 3000, 3000},
		}
	})
	_ = s.Search("cats")
	records, _ := s.Collect(100)
	if got := strings.Join(ids(records), ","); got != "0,1,2,3,4,5" {
		t.Fatalf("unexpected ids %s", got)
	}
	if scrolls := engine.Session.Pages[0].Scrolls; scrolls != 3 {
		t.Fatalf("expected 3 scrolls, got %d", scrolls)
	}
}

func TestCollectStopsMidBatchAndResumes(t *testing.T) {
	s, engine := newTestScraper(func() *browser.FakePage {
		return &browser.FakePage{Batches: [][]browser.Element{batch("0", "1", "2", "3", "4")}, Heights: []int{1000}}
	})
	_ = s.Search("cats")
	first, _ := s.Collect(2)
	if got := strings.Join(ids(first), ","); got != "0,1" {
		t.Fatalf("unexpected first page %s", got)
	}
	if scrolls := engine.Session.Pages[0].Scrolls; scrolls != 0 {
		t.Fatalf("expected no scroll once target reached, got %d", scrolls)
	}
	second, _ := s.Collect(10)
	if got := strings.Join(ids(second), ","); got != "2,3,4" {
		t.Fatalf("unexpected second page %s", got)
	}
	third, _ := s.Collect(10)
	if len(third) != 0 {
		t.Fatalf("expected nothing new, got %v", ids(third))
	}
}

func TestCollectMergedCollectionHasUniqueIDs(t *testing.T) {
	s, _ := newTestScraper(func() *browser.FakePage {
		return &browser.FakePage{
			Batches: [][]browser.Element{batch("0", "1", "2"), batch("1", "2", "3", "0"), batch("3", "4", "2")},
			Heights: []int{10, 20, 30, 30},
		}
	})
	_ = s.Search("cats")
	var all []record.Record
	for i := 0; i < 4; i++ {
		page, _ := s.Collect(2)
		all, _ = record.Merge(all, page)
		for _, r := range page {
			count := 0
			for _, existing := range all {
				if existing.ID == r.ID {
					count++
				}
			}
			if count != 1 {
				t.Fatalf("id %s appears %d times", r.ID, count)
			}
		}
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 distinct records, got %d (%v)", len(all), ids(all))
	}
}

func TestCollectSkipsBrokenElements(t *testing.T) {
	broken := &browser.FakeElement{
		Attrs: map[string]string{idAttribute: "bad"},
		HTML:  `<li data-idx="bad"><a m='{not json'>x</a></li>`,
	}
	detached := &browser.FakeElement{Attrs: map[string]string{idAttribute: "gone"}}
	noID := &browser.FakeElement{HTML: resultHTML("", `{"t":"x"}`, "")}
	elements := []browser.Element{fakeResult("0"), broken, detached, noID, fakeResult("1")}
	s, _ := newTestScraper(func() *browser.FakePage {
		return &browser.FakePage{Batches: [][]browser.Element{elements}, Heights: []int{1000}}
	})
	_ = s.Search("cats")
	records, _ := s.Collect(10)
	if got := strings.Join(ids(records), ","); got != "0,1" {
		t.Fatalf("unexpected ids %s", got)
	}
	if s.Status().Seen != 4 {
		t.Fatalf("expected broken ids to be marked seen, got %d", s.Status().Seen)
	}
}

func TestCollectThumbnailFailureKeepsRecord(t *testing.T) {
	el := fakeResult("0")
	el.ShotErr = errors.New("element detached")
	noImage := fakeResult("1")
	noImage.Shot = nil
	s, _ := newTestScraper(func() *browser.FakePage {
		return &browser.FakePage{Batches: [][]browser.Element{{el, noImage, fakeResult("2")}}, Heights: []int{1000}}
	})
	_ = s.Search("cats")
	records, _ := s.Collect(10)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Thumbnail != nil || records[1].Thumbnail != nil {
		t.Fatalf("expected missing thumbnails")
	}
	if string(records[2].Thumbnail) != "png-2" {
		t.Fatalf("unexpected thumbnail %q", records[2].Thumbnail)
	}
}

func TestCollectStopsOnDriverFailure(t *testing.T) {
	s, engine := newTestScraper(func() *browser.FakePage {
		return &browser.FakePage{Batches: [][]browser.Element{batch("0")}, Heights: []int{1000}}
	})
	_ = s.Search("cats")
	engine.Session.Pages[0].QueryErr = errors.New("browser gone")
	records, err := s.Collect(10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestCollectZeroMax(t *testing.T) {
	s, engine := newTestScraper(func() *browser.FakePage {
		return &browser.FakePage{Batches: [][]browser.Element{batch("0")}, Heights: []int{1000}}
	})
	_ = s.Search("cats")
	records, _ := s.Collect(0)
	if len(records) != 0 || engine.Session.Pages[0].Queries != 0 {
		t.Fatalf("expected no work for zero max")
	}
}

func TestThumbnailShrink(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 200, 100))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	th := thumbnailer{maxWidth: 50, logger: log.New(io.Discard)}
	out := th.shrink(buf.Bytes(), "1")
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 50 || cfg.Height != 25 {
		t.Fatalf("expected 50x25, got %dx%d", cfg.Width, cfg.Height)
	}
	raw := []byte("not a png")
	if got := th.shrink(raw, "2"); !bytes.Equal(got, raw) {
		t.Fatalf("expected raw bytes back")
	}
}
