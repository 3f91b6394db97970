package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/patrickjm/imgscout/internal/browser"
	"github.com/patrickjm/imgscout/internal/scraper"
)

// Server keeps one scraper alive between CLI invocations so that "more" can
// continue the session "search" opened.
type Server struct {
	scraper  *scraper.Scraper
	logger   *log.Logger
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once

	// status is a copy refreshed after every request so Status never waits
	// behind a running search.
	statusMu sync.Mutex
	status   StatusResult
}

func NewServer(s *scraper.Scraper, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		scraper: s,
		logger:  logger,
		stop:    make(chan struct{}),
		status:  StatusResult{PID: os.Getpid(), Status: s.Status()},
	}
}

func (s *Server) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return nil
			default:
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := s.handleRequest(req)
		_ = enc.Encode(resp)
		if req.Method == "Stop" {
			return
		}
	}
}

func (s *Server) handleRequest(req Request) Response {
	start := time.Now()
	result, err := s.dispatch(req)
	if err != nil {
		s.logger.Error("request failed", "method", req.Method, "err", err)
		return Response{ID: req.ID, Error: &RespError{Message: err.Error()}}
	}
	s.logger.Debug("request handled", "method", req.Method, "took", time.Since(start).Round(time.Millisecond))
	if result == nil {
		return Response{ID: req.ID}
	}
	b, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: &RespError{Message: err.Error()}}
	}
	return Response{ID: req.ID, Result: b}
}

func (s *Server) dispatch(req Request) (any, error) {
	if req.Method == "Status" {
		return s.snapshot(), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setBusy(true)
	defer s.refreshLocked()

	switch req.Method {
	case "Search":
		var params SearchParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, err
		}
		if params.Query == "" {
			return nil, errors.New("query required")
		}
		if err := s.scraper.Search(params.Query); err != nil {
			return nil, err
		}
		return s.collectLocked(params.Count)
	case "More":
		var params MoreParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, err
		}
		return s.collectLocked(params.Count)
	case "Stop":
		if err := s.scraper.Close(); err != nil {
			s.logger.Warn("saving browser storage", "err", err)
		}
		s.stopOnce.Do(func() { close(s.stop) })
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}

func (s *Server) snapshot() StatusResult {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

func (s *Server) setBusy(busy bool) {
	s.statusMu.Lock()
	s.status.Busy = busy
	s.statusMu.Unlock()
}

func (s *Server) refreshLocked() {
	status := s.scraper.Status()
	s.statusMu.Lock()
	s.status = StatusResult{PID: os.Getpid(), Status: status}
	s.statusMu.Unlock()
}

func (s *Server) collectLocked(count int) (CollectResult, error) {
	records, err := s.scraper.Collect(count)
	if err != nil {
		return CollectResult{}, err
	}
	return CollectResult{Status: s.scraper.Status(), Records: records}, nil
}

// ServeDir listens on socketPath until a Stop request arrives. The browser
// is only started by the first Search.
func ServeDir(socketPath string, engine browser.Engine, opts scraper.Options, logger *log.Logger) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return err
	}
	server := NewServer(scraper.New(engine, opts, logger), logger)
	if err := os.RemoveAll(socketPath); err != nil {
		return err
	}
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	defer l.Close()
	go func() {
		<-server.stop
		_ = l.Close()
	}()
	server.logger.Info("daemon listening", "socket", socketPath, "pid", os.Getpid())
	return server.Serve(l)
}

func WriteInfo(path string, info Info) error {
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
