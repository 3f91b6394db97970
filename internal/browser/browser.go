package browser

import "errors"

var (
	ErrTimeout  = errors.New("timed out")
	ErrNotFound = errors.New("element not found")
)

type StartOptions struct {
	Browser        string
	Channel        string
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	StorageIn      string
}

type Engine interface {
	Start(opts StartOptions) (Session, error)
}

type Session interface {
	NewPage() (Page, error)
	Close() error
	StorageState(path string) error
}

// WaitState is the element condition WaitFor blocks on.
type WaitState string

const (
	StateAttached WaitState = "attached"
	StateVisible  WaitState = "visible"
	StateHidden   WaitState = "hidden"
)

type Page interface {
	Goto(url string) error
	WaitFor(selector string, state WaitState, timeoutMs int) error
	Click(selector string, timeoutMs int) error
	Press(key string) error
	Query(selector string) ([]Element, error)
	ScrollToBottom() error
	ScrollHeight() (int, error)
	SetTimeout(ms int) error
	URL() (string, error)
	Close() error
}

// Element is one node matched by Page.Query.
type Element interface {
	Attribute(name string) (string, error)
	OuterHTML() (string, error)
	// Screenshot captures the first descendant matching selector as PNG.
	Screenshot(selector string) ([]byte, error)
}
