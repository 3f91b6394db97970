package scraper

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/patrickjm/imgscout/internal/browser"
	"github.com/patrickjm/imgscout/internal/record"
)

const idAttribute = "data-idx"

// pager owns the set of result ids already turned into records for the
// current session.
type pager struct {
	selector string
	pause    time.Duration
	seen     map[string]struct{}
	thumbs   thumbnailer
	logger   *log.Logger
	sleep    func(time.Duration)
}

func (p *pager) reset() {
	p.seen = make(map[string]struct{})
}

// collect alternates harvesting visible results with scrolling until max new
// records were produced or a scroll leaves the page height unchanged.
func (p *pager) collect(page browser.Page, max int) []record.Record {
	out := []record.Record{}
	if max <= 0 {
		return out
	}
	if p.seen == nil {
		p.reset()
	}
	start := time.Now()
	lastHeight, err := page.ScrollHeight()
	if err != nil {
		p.logger.Warn("could not read page height", "err", err)
		return out
	}
	for len(out) < max {
		elements, err := page.Query(p.selector)
		if err != nil {
			p.logger.Warn("result query failed", "err", err)
			break
		}
		out = p.harvest(elements, out, max)
		if len(out) >= max {
			break
		}
		if err := page.ScrollToBottom(); err != nil {
			p.logger.Warn("scroll failed", "err", err)
			break
		}
		p.sleep(p.pause)
		height, err := page.ScrollHeight()
		if err != nil {
			p.logger.Warn("could not read page height", "err", err)
			break
		}
		if height == lastHeight {
			p.logger.Info("no new content loaded after scrolling")
			break
		}
		lastHeight = height
	}
	p.logger.Info("collected results", "count", len(out), "seen", len(p.seen), "took", time.Since(start).Round(time.Millisecond))
	return out
}

func (p *pager) harvest(elements []browser.Element, out []record.Record, max int) []record.Record {
	for _, el := range elements {
		id, err := el.Attribute(idAttribute)
		if err != nil || id == "" {
			continue
		}
		if _, ok := p.seen[id]; ok {
			continue
		}
		p.seen[id] = struct{}{}
		html, err := el.OuterHTML()
		if err != nil {
			p.logger.Warn("could not extract data for image", "id", id, "err", err)
			continue
		}
		rec, err := extractRecord(id, html)
		if err != nil {
			p.logger.Warn("could not extract data for image", "id", id, "err", err)
			continue
		}
		rec.Thumbnail = p.thumbs.capture(el, id)
		p.logger.Debug("scraped image", "id", id, "title", rec.Title, "size", rec.Size, "thumbnail_bytes", len(rec.Thumbnail))
		out = append(out, rec)
		if len(out) >= max {
			break
		}
	}
	return out
}
