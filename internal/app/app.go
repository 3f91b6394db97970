package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/playwright-community/playwright-go"

	"github.com/patrickjm/imgscout/internal/browser"
	"github.com/patrickjm/imgscout/internal/catalog"
	"github.com/patrickjm/imgscout/internal/config"
	"github.com/patrickjm/imgscout/internal/daemon"
	"github.com/patrickjm/imgscout/internal/download"
	"github.com/patrickjm/imgscout/internal/filter"
	"github.com/patrickjm/imgscout/internal/preset"
	"github.com/patrickjm/imgscout/internal/record"
	"github.com/patrickjm/imgscout/internal/scraper"
)

type GlobalFlags struct {
	DataDir    string
	ConfigPath string
	JSON       bool
	Quiet      bool
	Verbose    bool
	NoStart    bool
	Browser    string
}

// SelectFlags narrow the stored records a command works on.
type SelectFlags struct {
	Where  []string
	Preset string
	IDs    []string
}

type App struct {
	Out io.Writer
	Err io.Writer
}

type env struct {
	cfg     config.Config
	logger  *log.Logger
	mgr     daemon.Manager
	presets preset.Store
}

func (a App) prepare(flags GlobalFlags) (env, error) {
	overrides := config.Overrides{ConfigPath: flags.ConfigPath, DataDir: flags.DataDir}
	if flags.Verbose {
		overrides.LogLevel = "debug"
	}
	cfg, err := config.Load(overrides)
	if err != nil {
		return env{}, err
	}
	if err := daemon.EnsureDataDir(cfg.DataDir); err != nil {
		return env{}, err
	}
	logger, err := newLogger(a.Err, cfg.LogLevel, false)
	if err != nil {
		return env{}, err
	}
	mgr := daemon.Manager{DataDir: cfg.DataDir}
	if flags.ConfigPath != "" {
		mgr.Args = []string{"--config", flags.ConfigPath}
	}
	if flags.Verbose {
		mgr.Args = append(mgr.Args, "--verbose")
	}
	return env{cfg: cfg, logger: logger, mgr: mgr, presets: preset.Store{Root: cfg.PresetDir()}}, nil
}

const (
	exitSuccess  = 0
	exitFailure  = 1
	exitUsage    = 2
	exitNotFound = 3
)

func newLogger(w io.Writer, level string, timestamps bool) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: timestamps,
		Prefix:          "imgscout",
	}), nil
}

func (a App) runInstall(flags GlobalFlags) int {
	browsers := []string{"firefox"}
	if flags.Browser != "" {
		browsers = []string{flags.Browser}
	}
	if err := playwright.Install(&playwright.RunOptions{Browsers: browsers}); err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if !flags.Quiet {
		fmt.Fprintf(a.Out, "Playwright installed: %s\n", strings.Join(browsers, ", "))
	}
	return exitSuccess
}

func (a App) runDoctor(e env, flags GlobalFlags) int {
	type result struct {
		DataDirWritable bool   `json:"data_dir_writable"`
		DataDir         string `json:"data_dir"`
		CatalogOK       bool   `json:"catalog_ok"`
		PlaywrightOK    bool   `json:"playwright_ok"`
		BrowsersPath    string `json:"browsers_path"`
	}
	res := result{DataDir: e.cfg.DataDir, BrowsersPath: os.Getenv("PLAYWRIGHT_BROWSERS_PATH")}
	if err := os.MkdirAll(e.cfg.DataDir, 0o755); err == nil {
		res.DataDirWritable = true
	}
	if cat, err := catalog.Open(e.cfg.CatalogPath()); err == nil {
		res.CatalogOK = true
		_ = cat.Close()
	}
	if pw, err := playwright.Run(); err == nil {
		res.PlaywrightOK = true
		pw.Stop()
	}
	if flags.JSON {
		return a.printJSON(res)
	}
	fmt.Fprintf(a.Out, "data_dir=%s\n", res.DataDir)
	fmt.Fprintf(a.Out, "data_dir_writable=%t\n", res.DataDirWritable)
	fmt.Fprintf(a.Out, "catalog_ok=%t\n", res.CatalogOK)
	fmt.Fprintf(a.Out, "playwright_ok=%t\n", res.PlaywrightOK)
	if res.BrowsersPath != "" {
		fmt.Fprintf(a.Out, "browsers_path=%s\n", res.BrowsersPath)
	}
	return exitSuccess
}

func (a App) runSearch(e env, flags GlobalFlags, query string, count int) int {
	n, err := resolveCount(count, e.cfg.PageSize)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitUsage
	}
	client, err := a.connect(e, flags)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	defer client.Close()
	e.logger.Info("searching", "query", query, "count", n)
	result, err := client.Search(query, n)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	cat, err := catalog.Open(e.cfg.CatalogPath())
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	defer cat.Close()
	if _, err := cat.Replace(query, result.Records); err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if len(result.Records) == 0 {
		fmt.Fprintln(a.Err, "No images found.")
		return exitNotFound
	}
	return a.printRecords(result.Records, flags)
}

func (a App) runMore(e env, flags GlobalFlags, count int) int {
	n, err := resolveCount(count, e.cfg.PageSize)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitUsage
	}
	cat, err := catalog.Open(e.cfg.CatalogPath())
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	defer cat.Close()
	if _, err := cat.Current(); err != nil {
		fmt.Fprintln(a.Err, err)
		return exitNotFound
	}
	client, err := a.connect(e, flags)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	defer client.Close()
	result, err := client.More(n)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	added, err := cat.Append(result.Records)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if added == 0 {
		fmt.Fprintln(a.Err, "No more images found.")
		return exitNotFound
	}
	if !flags.Quiet && !flags.JSON {
		fmt.Fprintf(a.Err, "Loaded %d more images.\n", added)
	}
	return a.printRecords(result.Records, flags)
}

func (a App) runList(e env, flags GlobalFlags, sel SelectFlags) int {
	records, code := a.selected(e, sel)
	if code != exitSuccess {
		return code
	}
	return a.printRecords(records, flags)
}

func (a App) runDownload(e env, flags GlobalFlags, sel SelectFlags, dir string) int {
	records, code := a.selected(e, sel)
	if code != exitSuccess {
		return code
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Err, "No images selected for download.")
		return exitNotFound
	}
	if dir == "" {
		dir = e.cfg.DownloadDir
	}
	targets := make([]*record.Record, 0, len(records))
	for i := range records {
		targets = append(targets, &records[i])
	}
	d := download.New(dir, e.cfg.DownloadTimeout, e.logger)
	report := d.DownloadAll(context.Background(), targets)

	cat, err := catalog.Open(e.cfg.CatalogPath())
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	defer cat.Close()
	for _, r := range targets {
		if r.DownloadedPath == "" {
			continue
		}
		if err := cat.SetDownloaded(r.ID, r.DownloadedPath); err != nil {
			e.logger.Warn("could not record download", "id", r.ID, "err", err)
		}
	}

	if flags.JSON {
		a.printJSON(struct {
			Status    download.Status `json:"status"`
			Succeeded int             `json:"succeeded"`
			Failed    []string        `json:"failed"`
		}{report.Status(), report.Succeeded, report.Failed})
	} else {
		fmt.Fprintln(a.Out, report.Summary())
	}
	if report.Status() != download.StatusComplete {
		return exitFailure
	}
	return exitSuccess
}

func (a App) runThumb(e env, id string, path string) int {
	cat, err := catalog.Open(e.cfg.CatalogPath())
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	defer cat.Close()
	_, records, err := cat.Records()
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitNotFound
	}
	found, missing := pickIDs(records, []string{id})
	if len(missing) > 0 {
		fmt.Fprintf(a.Err, "no record with id %s\n", id)
		return exitNotFound
	}
	if len(found[0].Thumbnail) == 0 {
		fmt.Fprintf(a.Err, "record %s has no thumbnail\n", id)
		return exitNotFound
	}
	if err := os.WriteFile(path, found[0].Thumbnail, 0o644); err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	return exitSuccess
}

func (a App) runPresetSave(e env, flags GlobalFlags, name string, where []string) int {
	p, created, err := e.presets.Save(name, where)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitUsage
	}
	if !flags.Quiet {
		verb := "updated"
		if created {
			verb = "saved"
		}
		fmt.Fprintf(a.Out, "%s %s\n", verb, p.Name)
	}
	return exitSuccess
}

func (a App) runPresetList(e env, flags GlobalFlags) int {
	presets, err := e.presets.List()
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if flags.JSON {
		return a.printJSON(presets)
	}
	for _, p := range presets {
		fmt.Fprintln(a.Out, p.String())
	}
	return exitSuccess
}

func (a App) runPresetShow(e env, flags GlobalFlags, name string) int {
	p, err := e.presets.Load(name)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitNotFound
	}
	if flags.JSON {
		return a.printJSON(p)
	}
	fmt.Fprintf(a.Out, "name=%s\n", p.Name)
	for _, w := range p.Where {
		fmt.Fprintf(a.Out, "where=%s\n", w)
	}
	return exitSuccess
}

func (a App) runPresetRemove(e env, flags GlobalFlags, names []string) int {
	for _, name := range names {
		if err := e.presets.Remove(name); err != nil {
			fmt.Fprintln(a.Err, err)
			return exitNotFound
		}
		if !flags.Quiet {
			fmt.Fprintf(a.Out, "removed %s\n", name)
		}
	}
	return exitSuccess
}

func (a App) runStatus(e env, flags GlobalFlags) int {
	type result struct {
		Running bool   `json:"running"`
		Busy    bool   `json:"busy"`
		PID     int    `json:"pid,omitempty"`
		Query   string `json:"query,omitempty"`
		Ready   bool   `json:"ready"`
		Seen    int    `json:"seen"`
		Stored  int    `json:"stored"`
	}
	var res result
	running, _, err := e.mgr.IsRunning()
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if running {
		client, err := daemon.NewClient(e.mgr.SocketPath())
		if err != nil {
			fmt.Fprintln(a.Err, err)
			return exitFailure
		}
		status, err := client.Status()
		_ = client.Close()
		if err != nil {
			fmt.Fprintln(a.Err, err)
			return exitFailure
		}
		res = result{Running: true, Busy: status.Busy, PID: status.PID, Query: status.Query, Ready: status.Ready, Seen: status.Seen}
	}
	if cat, err := catalog.Open(e.cfg.CatalogPath()); err == nil {
		if s, records, err := cat.Records(); err == nil {
			res.Stored = len(records)
			if res.Query == "" {
				res.Query = s.Query
			}
		}
		_ = cat.Close()
	}
	if flags.JSON {
		return a.printJSON(res)
	}
	fmt.Fprintf(a.Out, "running=%t", res.Running)
	if res.Running {
		fmt.Fprintf(a.Out, " pid=%d busy=%t ready=%t seen=%d", res.PID, res.Busy, res.Ready, res.Seen)
	}
	fmt.Fprintf(a.Out, "\nquery=%q stored=%d\n", res.Query, res.Stored)
	return exitSuccess
}

func (a App) runStop(e env, flags GlobalFlags) int {
	running, _, err := e.mgr.IsRunning()
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if !running {
		fmt.Fprintln(a.Err, "daemon is not running")
		return exitNotFound
	}
	if err := e.mgr.Stop(); err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if !flags.Quiet {
		fmt.Fprintln(a.Out, "stopped")
	}
	return exitSuccess
}

func (a App) runServe(e env) int {
	f, err := os.OpenFile(e.cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	defer f.Close()
	logger, err := newLogger(f, e.cfg.LogLevel, true)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	info := daemon.Info{PID: os.Getpid(), Socket: e.mgr.SocketPath(), StartedAt: daemon.NowUTC()}
	if path, modTime, err := daemon.CurrentBinaryInfo(); err == nil {
		info.BinaryPath = path
		info.BinaryModTime = modTime
	}
	if err := daemon.WriteInfo(e.mgr.InfoPath(), info); err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if err := daemon.ServeDir(e.mgr.SocketPath(), browser.PlaywrightEngine{}, scraperOptions(e.cfg), logger); err != nil {
		logger.Error("daemon stopped", "err", err)
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	logger.Info("daemon stopped")
	return exitSuccess
}

// selected loads the stored records and narrows them by ids and filters.
// Filter evaluation failures are reported but do not fail the command.
func (a App) selected(e env, sel SelectFlags) ([]record.Record, int) {
	clauses, err := gatherClauses(e.presets, sel)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return nil, exitUsage
	}
	cat, err := catalog.Open(e.cfg.CatalogPath())
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return nil, exitFailure
	}
	defer cat.Close()
	_, records, err := cat.Records()
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return nil, exitNotFound
	}
	if len(sel.IDs) > 0 {
		var missing []string
		records, missing = pickIDs(records, sel.IDs)
		if len(missing) > 0 {
			fmt.Fprintf(a.Err, "no record with id %s\n", strings.Join(missing, ", "))
			return nil, exitNotFound
		}
	}
	records, failures := filter.Apply(records, clauses)
	if len(failures) > 0 {
		fmt.Fprintf(a.Err, "%d records could not be filtered and were excluded:\n", len(failures))
		for _, f := range failures {
			fmt.Fprintf(a.Err, "  %s\n", f.Error())
		}
	}
	return records, exitSuccess
}

func (a App) connect(e env, flags GlobalFlags) (*daemon.Client, error) {
	running, _, err := e.mgr.IsRunning()
	if err != nil {
		return nil, err
	}
	if !running {
		if flags.NoStart {
			return nil, errors.New("daemon is not running")
		}
		e.logger.Debug("starting daemon", "data_dir", e.cfg.DataDir)
		if err := e.mgr.Start(); err != nil {
			return nil, err
		}
	}
	return daemon.NewClient(e.mgr.SocketPath())
}

func (a App) printRecords(records []record.Record, flags GlobalFlags) int {
	if flags.JSON {
		out := make([]record.Record, len(records))
		for i, r := range records {
			r.Thumbnail = nil
			out[i] = r
		}
		return a.printJSON(out)
	}
	for _, r := range records {
		fmt.Fprintln(a.Out, r.String())
	}
	return exitSuccess
}

func (a App) printJSON(v any) int {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	fmt.Fprintln(a.Out, string(b))
	return exitSuccess
}

func gatherClauses(store preset.Store, sel SelectFlags) ([]filter.Clause, error) {
	var clauses []filter.Clause
	if sel.Preset != "" {
		saved, err := store.Clauses(sel.Preset)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, saved...)
	}
	extra, err := filter.ParseAll(sel.Where)
	if err != nil {
		return nil, err
	}
	return append(clauses, extra...), nil
}

// pickIDs returns the records with the given ids in the order requested and
// the ids that matched nothing.
func pickIDs(records []record.Record, ids []string) ([]record.Record, []string) {
	byID := make(map[string]record.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	var found []record.Record
	var missing []string
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		found = append(found, r)
	}
	return found, missing
}

func resolveCount(requested int, pageSize int) (int, error) {
	if requested < 0 {
		return 0, fmt.Errorf("invalid count %d", requested)
	}
	if requested == 0 {
		return pageSize, nil
	}
	return requested, nil
}

func scraperOptions(cfg config.Config) scraper.Options {
	opts := scraper.DefaultOptions()
	opts.Endpoint = cfg.Endpoint
	opts.ResultTimeout = cfg.ResultTimeout
	opts.ScrollPause = cfg.ScrollPause
	opts.ThumbnailMaxWidth = cfg.ThumbnailMaxWidth
	opts.StoragePath = cfg.StoragePath()
	opts.Start = browser.StartOptions{
		Browser:        cfg.Browser,
		Channel:        cfg.Channel,
		Headless:       cfg.Headless,
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		StorageIn:      cfg.StoragePath(),
	}
	return opts
}
