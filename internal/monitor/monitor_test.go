package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/memsister/memsister/internal/daemon"
	"github.com/memsister/memsister/internal/logging"
	"github.com/memsister/memsister/internal/sync"
)

func startServer(t *testing.T) (*Server, *Handler) {
	t.Helper()

	server := NewServer(Config{Addr: "127.0.0.1:0", Logger: logging.Discard()})
	handler := NewHandler(server, logging.Discard())

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("Failed to stop server: %v", err)
		}
	})
	return server, handler
}

// dial connects a client and consumes the welcome message.
func dial(t *testing.T, ctx context.Context, server *Server) (*websocket.Conn, Status) {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("Expected welcome message type %s, got %s", MessageTypeStatus, msg.Type)
	}
	var status Status
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	return conn, status
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

// waitForClients polls until the server has registered n clients.
func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(Config{Addr: "127.0.0.1:0", Logger: logging.Discard()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.Addr() == "127.0.0.1:0" {
		t.Error("Addr() should report the bound port")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWelcomeStatus(t *testing.T) {
	server, handler := startServer(t)
	handler.OnConnected("127.0.0.1:11211")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, status := dial(t, ctx, server)
	if !status.Connected || status.CacheAddr != "127.0.0.1:11211" {
		t.Errorf("welcome status = %+v, want connected to 127.0.0.1:11211", status)
	}
}

func TestEventBroadcast(t *testing.T) {
	server, handler := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := dial(t, ctx, server)
	waitForClients(t, server, 1)

	handler.OnFileProcessed(daemon.FileResult{
		Name:           "metrics.base",
		Classification: sync.Unknown,
		Outcome:        daemon.OutcomePublished,
		Fingerprint:    "d41d8cd98f00b204e9800998ecf8427e",
		Written:        1,
	})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeFileProcessed {
		t.Fatalf("Expected %s, got %s", MessageTypeFileProcessed, msg.Type)
	}
	var file FileData
	if err := json.Unmarshal(msg.Data, &file); err != nil {
		t.Fatalf("Failed to unmarshal file data: %v", err)
	}
	if file.Name != "metrics.base" || file.Outcome != "published" || file.Classification != "unknown" {
		t.Errorf("file data = %+v", file)
	}

	handler.OnScanComplete(daemon.ScanResult{ID: "scan-1", Candidates: 1, Published: 1})

	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeScanComplete {
		t.Fatalf("Expected %s, got %s", MessageTypeScanComplete, msg.Type)
	}
	var scan ScanData
	if err := json.Unmarshal(msg.Data, &scan); err != nil {
		t.Fatalf("Failed to unmarshal scan data: %v", err)
	}
	if scan.ID != "scan-1" || scan.Published != 1 {
		t.Errorf("scan data = %+v", scan)
	}

	handler.OnDisconnected(errors.New("connection refused"))

	msg = readMessage(t, ctx, conn)
	var connData ConnectionData
	if err := json.Unmarshal(msg.Data, &connData); err != nil {
		t.Fatalf("Failed to unmarshal connection data: %v", err)
	}
	if msg.Type != MessageTypeConnection || connData.Connected || connData.Error != "connection refused" {
		t.Errorf("connection message = %s %+v", msg.Type, connData)
	}

	status := handler.Status()
	if status.Scans != 1 || status.Published != 1 || status.LastScan == nil {
		t.Errorf("status = %+v", status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, handler := startServer(t)

	get := func() (int, Status) {
		t.Helper()
		resp, err := http.Get("http://" + server.Addr() + "/health")
		if err != nil {
			t.Fatalf("GET /health failed: %v", err)
		}
		defer resp.Body.Close()

		var status Status
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode health: %v", err)
		}
		return resp.StatusCode, status
	}

	code, status := get()
	if code != http.StatusServiceUnavailable || status.Connected {
		t.Errorf("health before connect = %d %+v, want 503 disconnected", code, status)
	}

	handler.OnConnected("memory://")
	code, status = get()
	if code != http.StatusOK || !status.Connected {
		t.Errorf("health after connect = %d %+v, want 200 connected", code, status)
	}
}
