package browser

import (
	"errors"
	"fmt"
)

type FakeEngine struct {
	Session  *FakeSession
	Sessions []*FakeSession
	Started  []StartOptions
	// NewPageFn builds the page handed out by each started session.
	NewPageFn func() *FakePage
	StartErr  error
}

func (f *FakeEngine) Start(opts StartOptions) (Session, error) {
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	f.Started = append(f.Started, opts)
	f.Session = &FakeSession{newPage: f.NewPageFn}
	f.Sessions = append(f.Sessions, f.Session)
	return f.Session, nil
}

type FakeSession struct {
	Pages       []*FakePage
	Closed      bool
	StoragePath string
	newPage     func() *FakePage
}

func (s *FakeSession) NewPage() (Page, error) {
	var page *FakePage
	if s.newPage != nil {
		page = s.newPage()
	} else {
		page = &FakePage{}
	}
	s.Pages = append(s.Pages, page)
	return page, nil
}

func (s *FakeSession) Close() error {
	s.Closed = true
	return nil
}

func (s *FakeSession) StorageState(path string) error {
	s.StoragePath = path
	return nil
}

// FakePage serves Batches[n] and Heights[n] after n scrolls, clamped to the
// last entry.
type FakePage struct {
	URLValue  string
	Visits    []string
	Waits     []string
	Clicks    []string
	Keys      []string
	Batches   [][]Element
	Heights   []int
	Scrolls   int
	Queries   int
	TimeoutMs int
	Closed    bool
	WaitErr   map[string]error
	ClickErr  error
	GotoErr   error
	QueryErr  error
	HeightErr error
}

func (p *FakePage) Goto(url string) error {
	p.Visits = append(p.Visits, url)
	if p.GotoErr != nil {
		return p.GotoErr
	}
	p.URLValue = url
	return nil
}

func (p *FakePage) WaitFor(selector string, state WaitState, _ int) error {
	p.Waits = append(p.Waits, string(state)+":"+selector)
	if err, ok := p.WaitErr[selector]; ok {
		return err
	}
	return nil
}

func (p *FakePage) Click(selector string, _ int) error {
	p.Clicks = append(p.Clicks, selector)
	return p.ClickErr
}

func (p *FakePage) Press(key string) error {
	p.Keys = append(p.Keys, key)
	return nil
}

func (p *FakePage) Query(_ string) ([]Element, error) {
	p.Queries++
	if p.QueryErr != nil {
		return nil, p.QueryErr
	}
	if len(p.Batches) == 0 {
		return nil, nil
	}
	return p.Batches[clamp(p.Scrolls, len(p.Batches))], nil
}

func (p *FakePage) ScrollToBottom() error {
	p.Scrolls++
	return nil
}

func (p *FakePage) ScrollHeight() (int, error) {
	if p.HeightErr != nil {
		return 0, p.HeightErr
	}
	if len(p.Heights) == 0 {
		return 0, nil
	}
	return p.Heights[clamp(p.Scrolls, len(p.Heights))], nil
}

func (p *FakePage) SetTimeout(ms int) error {
	p.TimeoutMs = ms
	return nil
}

func (p *FakePage) URL() (string, error) {
	return p.URLValue, nil
}

func (p *FakePage) Close() error {
	p.Closed = true
	return nil
}

type FakeElement struct {
	Attrs   map[string]string
	HTML    string
	Shot    []byte
	ShotErr error
	Shots   int
}

func (e *FakeElement) Attribute(name string) (string, error) {
	return e.Attrs[name], nil
}

func (e *FakeElement) OuterHTML() (string, error) {
	if e.HTML == "" {
		return "", errors.New("detached element")
	}
	return e.HTML, nil
}

func (e *FakeElement) Screenshot(selector string) ([]byte, error) {
	e.Shots++
	if e.ShotErr != nil {
		return nil, e.ShotErr
	}
	if e.Shot == nil {
		return nil, fmt.Errorf("%s: %w", selector, ErrNotFound)
	}
	return e.Shot, nil
}

func clamp(i, n int) int {
	if i >= n {
		return n - 1
	}
	return i
}
