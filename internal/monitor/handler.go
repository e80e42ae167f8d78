package monitor

import (
	"sync"
	"time"

	"github.com/memsister/memsister/internal/daemon"
	"github.com/memsister/memsister/internal/logging"
)

// Status is the daemon state reported by /health and the welcome message.
type Status struct {
	Connected   bool       `json:"connected"`
	CacheAddr   string     `json:"cache_addr,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastScan    *ScanData  `json:"last_scan,omitempty"`
	Scans       int        `json:"scans"`
	Published   int        `json:"published"`
	Failed      int        `json:"failed"`
	Clients     int        `json:"clients"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// ConnectionData is the payload of a connection message.
type ConnectionData struct {
	Connected bool   `json:"connected"`
	CacheAddr string `json:"cache_addr,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FileData is the payload of a file_processed message.
type FileData struct {
	Name           string `json:"name"`
	Classification string `json:"classification"`
	Outcome        string `json:"outcome"`
	Fingerprint    string `json:"fingerprint,omitempty"`
	Written        int    `json:"written"`
	Skipped        int    `json:"skipped,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ScanData is the payload of a scan_complete message.
type ScanData struct {
	ID           string        `json:"id"`
	Started      time.Time     `json:"started"`
	Duration     time.Duration `json:"duration"`
	Candidates   int           `json:"candidates"`
	Published    int           `json:"published"`
	Unchanged    int           `json:"unchanged"`
	Failed       int           `json:"failed"`
	RenameFailed int           `json:"rename_failed"`
}

// Handler turns daemon events into monitor messages. It implements
// daemon.Observer.
type Handler struct {
	server *Server
	logger *logging.Logger

	mu     sync.RWMutex
	status Status
}

var _ daemon.Observer = (*Handler)(nil)

// NewHandler creates a Handler broadcasting on server and registers itself
// as the server's status source.
func NewHandler(server *Server, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{server: server, logger: logger}
	server.SetStatusFunc(h.Status)
	return h
}

// Status returns a copy of the current status.
func (h *Handler) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := h.status
	if s.LastScan != nil {
		scan := *s.LastScan
		s.LastScan = &scan
	}
	return s
}

// OnConnected implements daemon.Observer.
func (h *Handler) OnConnected(addr string) {
	now := time.Now()
	h.mu.Lock()
	h.status.Connected = true
	h.status.CacheAddr = addr
	h.status.LastError = ""
	h.status.ConnectedAt = &now
	h.mu.Unlock()

	h.send(MessageTypeConnection, ConnectionData{Connected: true, CacheAddr: addr})
}

// OnDisconnected implements daemon.Observer.
func (h *Handler) OnDisconnected(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	h.mu.Lock()
	h.status.Connected = false
	h.status.LastError = msg
	h.status.ConnectedAt = nil
	addr := h.status.CacheAddr
	h.mu.Unlock()

	h.send(MessageTypeConnection, ConnectionData{Connected: false, CacheAddr: addr, Error: msg})
}

// OnFileProcessed implements daemon.Observer.
func (h *Handler) OnFileProcessed(res daemon.FileResult) {
	data := FileData{
		Name:           res.Name,
		Classification: res.Classification.String(),
		Outcome:        res.Outcome.String(),
		Fingerprint:    res.Fingerprint.String(),
		Written:        res.Written,
		Skipped:        res.Skipped,
	}
	if res.Err != nil {
		data.Error = res.Err.Error()
	}

	h.mu.Lock()
	switch res.Outcome {
	case daemon.OutcomePublished:
		h.status.Published++
	case daemon.OutcomeFailed, daemon.OutcomeRenameFailed:
		h.status.Failed++
	}
	h.mu.Unlock()

	h.send(MessageTypeFileProcessed, data)
}

// OnScanComplete implements daemon.Observer.
func (h *Handler) OnScanComplete(res daemon.ScanResult) {
	data := ScanData{
		ID:           res.ID,
		Started:      res.Started,
		Duration:     res.Duration,
		Candidates:   res.Candidates,
		Published:    res.Published,
		Unchanged:    res.Unchanged,
		Failed:       res.Failed,
		RenameFailed: res.RenameFailed,
	}

	h.mu.Lock()
	h.status.Scans++
	h.status.LastScan = &data
	h.mu.Unlock()

	h.send(MessageTypeScanComplete, data)
}

func (h *Handler) send(typ MessageType, data any) {
	msg, err := newMessage(typ, data)
	if err != nil {
		h.logger.Error("Failed to build %s message: %v", typ, err)
		return
	}
	h.server.Broadcast(msg)
}
