// Package scraper drives a browser through an image search results page and
// turns the rendered results into records.
//
// A Scraper owns exactly one browser session. Search replaces it, Collect
// pages through it. Calls block and must not be made concurrently.
package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/charmbracelet/log"

	"github.com/patrickjm/imgscout/internal/browser"
	"github.com/patrickjm/imgscout/internal/record"
)

const (
	DefaultEndpoint       = "https://www.bing.com/images/search"
	DefaultResultSelector = "li[data-idx]"
	consentButton         = "#bnp_btn_accept"
	consentContainer      = "#bnp_container"
	escapeKey             = "Escape"
)

type Options struct {
	Endpoint          string
	ResultSelector    string
	ResultTimeout     time.Duration
	OverlayTimeout    time.Duration
	OverlaySettle     time.Duration
	ScrollPause       time.Duration
	ThumbnailMaxWidth int
	StoragePath       string
	Start             browser.StartOptions
}

func DefaultOptions() Options {
	return Options{
		Endpoint:       DefaultEndpoint,
		ResultSelector: DefaultResultSelector,
		ResultTimeout:  10 * time.Second,
		OverlayTimeout: 3 * time.Second,
		OverlaySettle:  500 * time.Millisecond,
		ScrollPause:    2 * time.Second,
		Start: browser.StartOptions{
			Browser:        "firefox",
			Headless:       true,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
		},
	}
}

type Status struct {
	Query string `json:"query"`
	Ready bool   `json:"ready"`
	Seen  int    `json:"seen"`
}

type Scraper struct {
	engine  browser.Engine
	opts    Options
	logger  *log.Logger
	session browser.Session
	page    browser.Page
	query   string
	ready   bool
	pager   *pager
	sleep   func(time.Duration)
}

func New(engine browser.Engine, opts Options, logger *log.Logger) *Scraper {
	if logger == nil {
		logger = log.Default()
	}
	defaults := DefaultOptions()
	if opts.Endpoint == "" {
		opts.Endpoint = defaults.Endpoint
	}
	if opts.ResultSelector == "" {
		opts.ResultSelector = defaults.ResultSelector
	}
	s := &Scraper{engine: engine, opts: opts, logger: logger, sleep: time.Sleep}
	s.pager = &pager{
		selector: opts.ResultSelector,
		pause:    opts.ScrollPause,
		thumbs:   thumbnailer{maxWidth: opts.ThumbnailMaxWidth, logger: logger},
		logger:   logger,
		sleep:    func(d time.Duration) { s.sleep(d) },
	}
	s.pager.reset()
	return s
}

// Search opens a fresh session on the results page for query. A page that
// never shows results is not an error: the session stays open and Collect
// returns nothing.
func (s *Scraper) Search(query string) error {
	if err := s.Close(); err != nil {
		s.logger.Warn("closing previous session", "err", err)
	}
	start := time.Now()
	session, err := s.engine.Start(s.opts.Start)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	page, err := session.NewPage()
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("open page: %w", err)
	}
	s.session = session
	s.page = page
	s.query = query
	s.pager.reset()

	target := s.opts.Endpoint + "?q=" + url.QueryEscape(query)
	if err := page.Goto(target); err != nil {
		s.logger.Warn("results page did not load", "query", query, "err", err)
		return nil
	}
	if err := page.WaitFor(s.opts.ResultSelector, browser.StateAttached, ms(s.opts.ResultTimeout)); err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			s.logger.Warn("initial image results did not load", "query", query)
		} else {
			s.logger.Warn("waiting for results failed", "query", query, "err", err)
		}
		return nil
	}
	s.ready = true
	s.dismissOverlays()
	s.logger.Info("search loaded", "query", query, "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// Collect returns up to max records not produced before in this session.
func (s *Scraper) Collect(max int) ([]record.Record, error) {
	if s.page == nil {
		return nil, errors.New("no active search")
	}
	if !s.ready {
		return []record.Record{}, nil
	}
	return s.pager.collect(s.page, max), nil
}

func (s *Scraper) Status() Status {
	return Status{Query: s.query, Ready: s.ready, Seen: len(s.pager.seen)}
}

func (s *Scraper) Close() error {
	if s.session == nil {
		return nil
	}
	var err error
	if s.opts.StoragePath != "" {
		err = s.session.StorageState(s.opts.StoragePath)
	}
	_ = s.session.Close()
	s.session = nil
	s.page = nil
	s.ready = false
	s.query = ""
	return err
}

func (s *Scraper) dismissOverlays() {
	timeout := ms(s.opts.OverlayTimeout)
	if err := s.page.Click(consentButton, timeout); err != nil {
		s.logger.Debug("no cookie banner found or dismissed", "err", err)
	} else if err := s.page.WaitFor(consentContainer, browser.StateHidden, timeout); err != nil {
		s.logger.Debug("cookie banner still visible", "err", err)
	} else {
		s.logger.Debug("cookie banner dismissed")
	}
	if err := s.page.Press(escapeKey); err != nil {
		s.logger.Debug("error sending escape key", "err", err)
		return
	}
	s.sleep(s.opts.OverlaySettle)
}

func ms(d time.Duration) int {
	return int(d.Milliseconds())
}
