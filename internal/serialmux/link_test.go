package serialmux

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/discfield/internal/field"
	"github.com/banshee-data/discfield/internal/render"
)

type logEntry struct {
	Direction string
	Message   string
	OK        bool
}

type memCommandLog struct {
	mu      sync.Mutex
	entries []logEntry
}

func (m *memCommandLog) LogCommand(_ context.Context, direction, message string, ok bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, logEntry{direction, message, ok})
	return nil
}

func (m *memCommandLog) snapshot() []logEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logEntry(nil), m.entries...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLinkSendWhileDisconnected(t *testing.T) {
	cmdLog := &memCommandLog{}
	link := NewLink(nil, cmdLog)

	if link.IsConnected() {
		t.Fatal("new link should be disconnected")
	}
	if link.Send("START") {
		t.Error("Send on a closed link must report false")
	}
	if err := link.Connect(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Connect without opener = %v", err)
	}
	if got := cmdLog.snapshot(); len(got) != 1 || got[0] != (logEntry{DirectionTx, "START", false}) {
		t.Errorf("command log = %+v", got)
	}
	if err := link.Disconnect(); err != nil {
		t.Errorf("Disconnect on closed link: %v", err)
	}
}

func TestLinkConnectSendDisconnect(t *testing.T) {
	port := NewTestSerialPort("stale bytes\n")
	factory := NewMockSerialPortFactory(port)
	cmdLog := &memCommandLog{}
	link := NewLink(FactoryOpener(factory, "/dev/ttyUSB0", PortOptions{}), cmdLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := link.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := link.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if len(factory.OpenCalls) != 1 {
		t.Fatalf("expected one open, got %d", len(factory.OpenCalls))
	}
	call := factory.LastCall()
	if call.Path != "/dev/ttyUSB0" || call.Mode.BaudRate != 9600 {
		t.Errorf("open call = %+v", call)
	}
	port.mu.Lock()
	resets := port.resets
	port.mu.Unlock()
	if resets != 2 {
		t.Errorf("expected both buffers discarded, got %d resets", resets)
	}

	if !link.Send("START") {
		t.Fatal("Send on an open link should succeed")
	}
	if got := port.WrittenData(); got != "START\n" {
		t.Errorf("written %q", got)
	}

	port.Feed("ACK START\n")
	waitFor(t, func() bool { return len(cmdLog.snapshot()) == 2 })
	got := cmdLog.snapshot()
	if got[0] != (logEntry{DirectionTx, "START", true}) || got[1] != (logEntry{DirectionRx, "ACK START", true}) {
		t.Errorf("command log = %+v", got)
	}

	port.SetWriteError(errors.New("unplugged"))
	if link.Send("END -") {
		t.Error("Send should report a failed write")
	}

	if err := link.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if link.IsConnected() || !port.IsClosed() {
		t.Error("link should be closed")
	}
	if link.Send("START") {
		t.Error("Send after Disconnect must report false")
	}
}

func TestLinkConnectFailure(t *testing.T) {
	factory := NewMockSerialPortFactory(nil)
	factory.Error = errors.New("no such device")
	link := NewLink(FactoryOpener(factory, "/dev/none", PortOptions{}), nil)
	if err := link.Connect(context.Background()); err == nil || !strings.Contains(err.Error(), "no such device") {
		t.Errorf("Connect = %v", err)
	}
	if link.IsConnected() {
		t.Error("failed connect must leave the link closed")
	}

	bad := NewLink(FactoryOpener(NewMockSerialPortFactory(NewTestSerialPort("")), "/dev/x", PortOptions{BaudRate: 7}), nil)
	if err := bad.Connect(context.Background()); err == nil {
		t.Error("invalid options should fail Connect")
	}
}

func TestActuatorSink(t *testing.T) {
	link := NewLink(MockOpener(), nil)
	if err := link.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer link.Close()
	echo := link.Mux().(*SerialMux[*EchoPort]).port

	d := render.NewDispatcher(16, NewActuator(link))
	d.LoopStarted("run-1")
	d.Message("ignored")
	d.LoopCommitted("run-1", field.Point{X: 12, Y: 7}, true)
	d.LoopStarted("run-2")
	d.LoopCommitted("run-2", field.Point{}, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	d.Close()

	want := "START\nEND 12,7\nSTART\nEND -\n"
	if got := echo.Written(); got != want {
		t.Errorf("actuator got %q, want %q", got, want)
	}
}

func TestEndMessage(t *testing.T) {
	if got := EndMessage(nil); got != "END -" {
		t.Errorf("EndMessage(nil) = %q", got)
	}
	if got := EndMessage(&field.Point{X: 0, Y: 239}); got != "END 0,239" {
		t.Errorf("EndMessage = %q", got)
	}
}

func TestAdminRoutes(t *testing.T) {
	link := NewLink(MockOpener(), nil)
	if err := link.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer link.Close()

	// registered directly; tsweb.Debugger gates on tailscale identity
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/send-command", link.handleSendCommandPage)
	mux.HandleFunc("/debug/send-command-api", link.handleSendCommandAPI)
	mux.HandleFunc("/debug/tail", link.handleTail)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/send-command")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("send-command page status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/debug/send-command-api")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET send-command-api status %d", resp.StatusCode)
	}

	resp, err = http.PostForm(srv.URL+"/debug/send-command-api", url.Values{"command": {" "}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty command status %d", resp.StatusCode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail", nil)
	tail, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer tail.Body.Close()
	if ct := tail.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("tail content type %q", ct)
	}
	lines := bufio.NewScanner(tail.Body)
	if !lines.Scan() || lines.Text() != ": ping" {
		t.Fatalf("expected ping, got %q", lines.Text())
	}

	resp, err = http.PostForm(srv.URL+"/debug/send-command-api", url.Values{"command": {"START"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("send status %d", resp.StatusCode)
	}

	for lines.Scan() {
		if lines.Text() == "data: ACK START" {
			return
		}
	}
	t.Error("tail did not stream the acknowledgement")
}
