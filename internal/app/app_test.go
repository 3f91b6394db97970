package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/patrickjm/imgscout/internal/catalog"
	"github.com/patrickjm/imgscout/internal/preset"
	"github.com/patrickjm/imgscout/internal/record"
)

type harness struct {
	dataDir string
	config  string
}

func newHarness(t *testing.T) harness {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	cfg := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(cfg, []byte("log_level = \"error\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return harness{dataDir: filepath.Join(dir, "data"), config: cfg}
}

func (h harness) run(args ...string) (int, string, string) {
	var out, errOut bytes.Buffer
	full := append([]string{"--data-dir", h.dataDir, "--config", h.config}, args...)
	code := Execute(full, &out, &errOut)
	return code, out.String(), errOut.String()
}

func (h harness) seed(t *testing.T, records ...record.Record) {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(h.dataDir, "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	defer cat.Close()
	if _, err := cat.Replace("cats", records); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func decodeIDs(t *testing.T, out string) []string {
	t.Helper()
	var records []record.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if len(r.Thumbnail) != 0 {
			t.Fatalf("json output should omit thumbnails")
		}
		ids = append(ids, r.ID)
	}
	return ids
}

func TestResolveCount(t *testing.T) {
	if n, err := resolveCount(0, 20); err != nil || n != 20 {
		t.Fatalf("expected page size, got %d %v", n, err)
	}
	if n, err := resolveCount(5, 20); err != nil || n != 5 {
		t.Fatalf("expected 5, got %d %v", n, err)
	}
	if _, err := resolveCount(-1, 20); err == nil {
		t.Fatalf("expected error for negative count")
	}
}

func TestPickIDs(t *testing.T) {
	records := []record.Record{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	found, missing := pickIDs(records, []string{"3", "9", "1"})
	if len(found) != 2 || found[0].ID != "3" || found[1].ID != "1" {
		t.Fatalf("unexpected found %v", found)
	}
	if len(missing) != 1 || missing[0] != "9" {
		t.Fatalf("unexpected missing %v", missing)
	}
}

func TestGatherClauses(t *testing.T) {
	store := preset.Store{Root: t.TempDir()}
	if _, _, err := store.Save("wide", []string{"size > 1000"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	clauses, err := gatherClauses(store, SelectFlags{Preset: "wide", Where: []string{"title ~ cat"}})
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(clauses) != 2 || clauses[0].String() != "size is greater than 1000" {
		t.Fatalf("unexpected clauses %v", clauses)
	}
	if _, err := gatherClauses(store, SelectFlags{Preset: "missing"}); err == nil {
		t.Fatalf("expected error for missing preset")
	}
	if _, err := gatherClauses(store, SelectFlags{Where: []string{"weight > 3"}}); err == nil {
		t.Fatalf("expected error for bad expression")
	}
}

func TestExecuteListFilters(t *testing.T) {
	h := newHarness(t)
	if code, _, _ := h.run("list"); code != exitNotFound {
		t.Fatalf("expected not found before any search, got %d", code)
	}
	h.seed(t,
		record.Record{ID: "1", Title: "Grumpy Cat", Size: "640 x 480", Thumbnail: []byte{1}},
		record.Record{ID: "2", Title: "Dog", Size: "800 x 600"},
		record.Record{ID: "3", Title: "Cat nap", Size: "huge"},
	)

	code, out, _ := h.run("list", "--json")
	if code != exitSuccess {
		t.Fatalf("list exit %d", code)
	}
	if got := strings.Join(decodeIDs(t, out), ","); got != "1,2,3" {
		t.Fatalf("unexpected ids %s", got)
	}

	code, out, errOut := h.run("list", "--json", "-w", "title contains cat", "-w", "size > 1000")
	if code != exitSuccess {
		t.Fatalf("list exit %d", code)
	}
	if got := strings.Join(decodeIDs(t, out), ","); got != "1" {
		t.Fatalf("unexpected ids %s", got)
	}
	if !strings.Contains(errOut, "1 records could not be filtered") {
		t.Fatalf("expected failure report, got %q", errOut)
	}

	if code, _, _ := h.run("list", "-w", "colour ~ red"); code != exitUsage {
		t.Fatalf("expected usage error for bad filter, got %d", code)
	}
	if code, _, _ := h.run("list", "--id", "9"); code != exitNotFound {
		t.Fatalf("expected not found for unknown id, got %d", code)
	}
}

func TestExecutePresets(t *testing.T) {
	h := newHarness(t)
	h.seed(t, record.Record{ID: "1", Title: "Cat"}, record.Record{ID: "2", Title: "Dog"})

	if code, _, errOut := h.run("preset", "save", "Cats Only", "-w", "title ~ cat"); code != exitSuccess {
		t.Fatalf("save exit %d: %s", code, errOut)
	}
	if code, _, _ := h.run("preset", "save", "broken", "-w", "title"); code != exitUsage {
		t.Fatalf("expected usage error, got %d", code)
	}
	code, out, _ := h.run("preset", "list")
	if code != exitSuccess || !strings.Contains(out, "cats-only (title ~ cat)") {
		t.Fatalf("unexpected list %d %q", code, out)
	}
	code, out, _ = h.run("list", "--json", "--preset", "cats-only")
	if code != exitSuccess {
		t.Fatalf("list exit %d", code)
	}
	if got := strings.Join(decodeIDs(t, out), ","); got != "1" {
		t.Fatalf("unexpected ids %s", got)
	}
	if code, _, _ := h.run("preset", "rm", "cats-only"); code != exitSuccess {
		t.Fatalf("rm exit %d", code)
	}
	if code, _, _ := h.run("preset", "show", "cats-only"); code != exitNotFound {
		t.Fatalf("expected not found, got %d", code)
	}
}

func TestExecuteDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("image"))
	}))
	defer srv.Close()

	h := newHarness(t)
	h.seed(t,
		record.Record{ID: "1", Title: "Cat", SourceImageURL: srv.URL + "/cat.jpg"},
		record.Record{ID: "2", Title: "Dog", SourceImageURL: srv.URL + "/missing.jpg"},
	)
	target := filepath.Join(t.TempDir(), "out")

	code, out, _ := h.run("download", "-o", target, "--id", "1")
	if code != exitSuccess {
		t.Fatalf("download exit %d", code)
	}
	if !strings.Contains(out, "Downloaded 1 images.") {
		t.Fatalf("unexpected summary %q", out)
	}
	if _, err := os.Stat(filepath.Join(target, "Cat.jpg")); err != nil {
		t.Fatalf("expected file: %v", err)
	}

	code, out, _ = h.run("download", "-o", target)
	if code != exitFailure {
		t.Fatalf("expected failure exit for partial download, got %d", code)
	}
	if !strings.Contains(out, "Failed to download 1 images") {
		t.Fatalf("unexpected summary %q", out)
	}

	cat, err := catalog.Open(filepath.Join(h.dataDir, "catalog.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer cat.Close()
	_, records, _ := cat.Records()
	if records[0].DownloadedPath == "" || records[1].DownloadedPath != "" {
		t.Fatalf("unexpected downloaded paths %+v", records)
	}

	if code, _, _ := h.run("download", "-w", "title ~ zebra"); code != exitNotFound {
		t.Fatalf("expected not found when nothing selected, got %d", code)
	}
}

func TestExecuteThumb(t *testing.T) {
	h := newHarness(t)
	h.seed(t, record.Record{ID: "1", Thumbnail: []byte("png")}, record.Record{ID: "2"})
	path := filepath.Join(t.TempDir(), "thumb.png")
	if code, _, _ := h.run("thumb", "1", path); code != exitSuccess {
		t.Fatalf("thumb exit %d", code)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "png" {
		t.Fatalf("unexpected thumbnail %q %v", b, err)
	}
	if code, _, _ := h.run("thumb", "2", path); code != exitNotFound {
		t.Fatalf("expected not found for missing thumbnail, got %d", code)
	}
}

func TestExecuteUsage(t *testing.T) {
	h := newHarness(t)
	if code, _, _ := h.run("bogus"); code != exitUsage {
		t.Fatalf("expected usage exit, got %d", code)
	}
	code, out, _ := h.run("--version")
	if code != exitSuccess || strings.TrimSpace(out) != Version {
		t.Fatalf("unexpected version output %d %q", code, out)
	}
	if code, _, _ := h.run("more", "--no-start"); code != exitNotFound {
		t.Fatalf("expected not found without a search, got %d", code)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Errorf("restore working directory: %v", err)
		}
	})
}
