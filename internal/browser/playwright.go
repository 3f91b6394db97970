package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/playwright-community/playwright-go"
)

type PlaywrightEngine struct{}

func (p PlaywrightEngine) Start(opts StartOptions) (Session, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, err
	}
	bt, err := browserType(pw, opts.Browser)
	if err != nil {
		pw.Stop()
		return nil, err
	}
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.Channel != "" {
		launchOpts.Channel = playwright.String(opts.Channel)
	}
	browser, err := bt.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, err
	}
	ctxOpts := playwright.BrowserNewContextOptions{}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		ctxOpts.Viewport = &playwright.Size{Width: opts.ViewportWidth, Height: opts.ViewportHeight}
	}
	if opts.StorageIn != "" {
		if _, err := os.Stat(opts.StorageIn); err == nil {
			ctxOpts.StorageStatePath = playwright.String(opts.StorageIn)
		}
	}
	ctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, err
	}
	return &playwrightSession{pw: pw, browser: browser, ctx: ctx}, nil
}

type playwrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	ctx     playwright.BrowserContext
}

func (s *playwrightSession) NewPage() (Page, error) {
	page, err := s.ctx.NewPage()
	if err != nil {
		return nil, err
	}
	return &playwrightPage{page: page}, nil
}

func (s *playwrightSession) StorageState(path string) error {
	_, err := s.ctx.StorageState(path)
	return err
}

func (s *playwrightSession) Close() error {
	if s.ctx != nil {
		_ = s.ctx.Close()
	}
	if s.browser != nil {
		_ = s.browser.Close()
	}
	if s.pw != nil {
		s.pw.Stop()
	}
	return nil
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(url string) error {
	_, err := p.page.Goto(url)
	return translate(err)
}

func (p *playwrightPage) WaitFor(selector string, state WaitState, timeoutMs int) error {
	opts := playwright.LocatorWaitForOptions{State: waitState(state)}
	if timeoutMs > 0 {
		opts.Timeout = playwright.Float(float64(timeoutMs))
	}
	return translate(p.page.Locator(selector).First().WaitFor(opts))
}

func (p *playwrightPage) Click(selector string, timeoutMs int) error {
	opts := playwright.LocatorClickOptions{}
	if timeoutMs > 0 {
		opts.Timeout = playwright.Float(float64(timeoutMs))
	}
	return translate(p.page.Locator(selector).First().Click(opts))
}

func (p *playwrightPage) Press(key string) error {
	return translate(p.page.Keyboard().Press(key))
}

func (p *playwrightPage) Query(selector string) ([]Element, error) {
	locators, err := p.page.Locator(selector).All()
	if err != nil {
		return nil, translate(err)
	}
	elements := make([]Element, 0, len(locators))
	for _, loc := range locators {
		elements = append(elements, &playwrightElement{loc: loc})
	}
	return elements, nil
}

func (p *playwrightPage) ScrollToBottom() error {
	_, err := p.page.Evaluate(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return translate(err)
}

func (p *playwrightPage) ScrollHeight() (int, error) {
	v, err := p.page.Evaluate(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, translate(err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	var height float64
	if err := json.Unmarshal(b, &height); err != nil {
		return 0, fmt.Errorf("scroll height: %w", err)
	}
	return int(height), nil
}

func (p *playwrightPage) SetTimeout(ms int) error {
	if ms <= 0 {
		return nil
	}
	p.page.SetDefaultTimeout(float64(ms))
	return nil
}

func (p *playwrightPage) URL() (string, error) {
	return p.page.URL(), nil
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}

type playwrightElement struct {
	loc playwright.Locator
}

func (e *playwrightElement) Attribute(name string) (string, error) {
	v, err := e.loc.GetAttribute(name)
	return v, translate(err)
}

func (e *playwrightElement) OuterHTML() (string, error) {
	v, err := e.loc.Evaluate(`el => el.outerHTML`, nil)
	if err != nil {
		return "", translate(err)
	}
	html, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("outer html: unexpected %T", v)
	}
	return html, nil
}

func (e *playwrightElement) Screenshot(selector string) ([]byte, error) {
	target := e.loc.Locator(selector)
	count, err := target.Count()
	if err != nil {
		return nil, translate(err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%s: %w", selector, ErrNotFound)
	}
	b, err := target.First().Screenshot(playwright.LocatorScreenshotOptions{
		Type:    playwright.ScreenshotTypePng,
		Timeout: playwright.Float(5000),
	})
	return b, translate(err)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func waitState(state WaitState) *playwright.WaitForSelectorState {
	switch state {
	case StateVisible:
		return playwright.WaitForSelectorStateVisible
	case StateHidden:
		return playwright.WaitForSelectorStateHidden
	default:
		return playwright.WaitForSelectorStateAttached
	}
}

func browserType(pw *playwright.Playwright, name string) (playwright.BrowserType, error) {
	switch name {
	case "chromium":
		return pw.Chromium, nil
	case "firefox", "":
		return pw.Firefox, nil
	case "webkit":
		return pw.WebKit, nil
	default:
		return nil, errors.New("unknown browser: " + name)
	}
}
