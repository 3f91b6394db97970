package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/patrickjm/imgscout/internal/browser"
	"github.com/patrickjm/imgscout/internal/record"
	"github.com/patrickjm/imgscout/internal/scraper"
)

func waitForSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("unix", path, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return errors.New("socket not ready")
}

func results(ids ...string) []browser.Element {
	out := make([]browser.Element, 0, len(ids))
	for _, id := range ids {
		m := fmt.Sprintf(`{"t":"Image %s","murl":"https://img.example/%s.jpg","w":10,"h":10}`, id, id)
		out = append(out, &browser.FakeElement{
			Attrs: map[string]string{"data-idx": id},
			HTML:  fmt.Sprintf(`<li data-idx="%s"><a class="iusc" m='%s'></a></li>`, id, m),
		})
	}
	return out
}

func idList(records []record.Record) string {
	out := ""
	for i, r := range records {
		if i > 0 {
			out += ","
		}
		out += r.ID
	}
	return out
}

func TestServerSearchAndMore(t *testing.T) {
	dir := t.TempDir()
	socket := filepath.Join(dir, "daemon.sock")
	engine := &browser.FakeEngine{NewPageFn: func() *browser.FakePage {
		return &browser.FakePage{
			Batches: [][]browser.Element{results("0", "1", "2"), results("0", "1", "2", "3", "4")},
			Heights: []int{1000, 2000, 2000},
		}
	}}
	opts := scraper.DefaultOptions()
	opts.ScrollPause = 0
	opts.OverlaySettle = 0
	opts.StoragePath = filepath.Join(dir, "storage.json")

	errCh := make(chan error, 1)
	go func() {
		errCh <- ServeDir(socket, engine, opts, log.New(io.Discard))
	}()
	if err := waitForSocket(socket, 2*time.Second); err != nil {
		t.Fatalf("wait socket: %v", err)
	}
	client, err := NewClient(socket)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	if _, err := client.More(5); err == nil {
		t.Fatalf("expected error before any search")
	}
	first, err := client.Search("cats", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := idList(first.Records); got != "0,1" {
		t.Fatalf("unexpected first page %s", got)
	}
	if first.Status.Query != "cats" || !first.Status.Ready {
		t.Fatalf("unexpected status %+v", first.Status)
	}
	second, err := client.More(2)
	if err != nil {
		t.Fatalf("more: %v", err)
	}
	if got := idList(second.Records); got != "2,3" {
		t.Fatalf("unexpected second page %s", got)
	}
	third, err := client.More(10)
	if err != nil {
		t.Fatalf("more: %v", err)
	}
	if got := idList(third.Records); got != "4" {
		t.Fatalf("expected stall after 4, got %s", got)
	}
	status, err := client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Seen != 5 || status.PID == 0 {
		t.Fatalf("unexpected status %+v", status)
	}
	if err := client.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("server error: %v", err)
	}
	if engine.Session == nil || !engine.Session.Closed {
		t.Fatalf("expected session closed on stop")
	}
	if engine.Session.StoragePath != opts.StoragePath {
		t.Fatalf("expected storage saved, got %q", engine.Session.StoragePath)
	}
}

func TestServerRejectsUnknownMethod(t *testing.T) {
	s := NewServer(scraper.New(&browser.FakeEngine{}, scraper.DefaultOptions(), log.New(io.Discard)), log.New(io.Discard))
	resp := s.handleRequest(Request{ID: "1", Method: "Eval"})
	if resp.Error == nil {
		t.Fatalf("expected error")
	}
	resp = s.handleRequest(Request{ID: "2", Method: "Search", Params: []byte(`{"query":""}`)})
	if resp.Error == nil {
		t.Fatalf("expected error for empty query")
	}
}

func TestServerStatusDoesNotWaitForSearch(t *testing.T) {
	s := NewServer(scraper.New(&browser.FakeEngine{}, scraper.DefaultOptions(), log.New(io.Discard)), log.New(io.Discard))
	s.mu.Lock()
	s.setBusy(true)
	done := make(chan Response, 1)
	go func() {
		done <- s.handleRequest(Request{ID: "1", Method: "Status"})
	}()
	select {
	case resp := <-done:
		s.mu.Unlock()
		if resp.Error != nil {
			t.Fatalf("status: %s", resp.Error.Message)
		}
		var status StatusResult
		if err := json.Unmarshal(resp.Result, &status); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !status.Busy || status.PID == 0 {
			t.Fatalf("unexpected status %+v", status)
		}
	case <-time.After(time.Second):
		s.mu.Unlock()
		t.Fatalf("status blocked behind a running request")
	}

	resp := s.handleRequest(Request{ID: "2", Method: "More", Params: []byte(`{"count":1}`)})
	if resp.Error == nil {
		t.Fatalf("expected error without a search")
	}
	if s.snapshot().Busy {
		t.Fatalf("expected busy cleared after the request")
	}
}
