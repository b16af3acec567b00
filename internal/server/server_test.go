package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/sensorhub/internal/config"
	"github.com/muurk/sensorhub/internal/protocol"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	// monitors are driven by hand unless a test shortens these
	cfg.HeartbeatInterval = time.Hour
	cfg.CleanupInterval = time.Hour
	cfg.WriteTimeout = 500 * time.Millisecond
	return cfg
}

func startServer(t *testing.T, cfg *config.Config, handler MessageHandler) *Server {
	t.Helper()
	srv, err := New(cfg, handler)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn net.Conn) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	return msg
}

func writeMessage(t *testing.T, conn net.Conn, msg protocol.Message) {
	t.Helper()
	if _, err := protocol.WriteFrame(conn, msg); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
}

func writeRaw(t *testing.T, conn net.Conn, payload string) {
	t.Helper()
	buf := make([]byte, protocol.HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[protocol.HeaderSize:], payload)
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write error = %v", err)
	}
}

// connectClient dials and consumes the welcome frame, returning its client_id
func connectClient(t *testing.T, srv *Server) (net.Conn, string) {
	t.Helper()
	conn := dial(t, srv)
	welcome := readMessage(t, conn)
	if welcome.Type() != protocol.TypeWelcome {
		t.Fatalf("first frame type = %q, want welcome", welcome.Type())
	}
	id, _ := welcome.StringField("client_id")
	if id == "" {
		t.Fatal("welcome carried no client_id")
	}
	return conn, id
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	if !errors.Is(err, io.EOF) && !isConnReset(err) {
		t.Fatalf("expected closed connection, got err = %v", err)
	}
}

func isConnReset(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && !opErr.Timeout()
}

type handlerLog struct {
	mu   sync.Mutex
	msgs []recordedMessage
}

func (h *handlerLog) handle(c protocol.Category, msg protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, recordedMessage{c, msg})
}

func (h *handlerLog) all() []recordedMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedMessage(nil), h.msgs...)
}

func TestWelcomeHeartbeatDisconnect(t *testing.T) {
	srv := startServer(t, testConfig(), nil)

	conn, clientID := connectClient(t, srv)

	info, ok := srv.GetClient(clientID)
	if !ok {
		t.Fatalf("GetClient(%s) not found", clientID)
	}
	before := info.LastActivity
	if srv.GetStatistics().MessagesReceived != 0 {
		t.Fatal("messages_received should start at 0")
	}

	time.Sleep(10 * time.Millisecond)
	writeMessage(t, conn, protocol.Message{"type": "heartbeat"})

	eventually(t, "heartbeat to be counted", func() bool {
		return srv.GetStatistics().MessagesReceived == 1
	})
	info, _ = srv.GetClient(clientID)
	if !info.LastActivity.After(before) {
		t.Errorf("last_activity did not advance: %v -> %v", before, info.LastActivity)
	}

	_ = conn.Close()
	eventually(t, "session to be removed", func() bool {
		return srv.GetStatistics().ConnectionsActive == 0
	})

	stats := srv.GetStatistics()
	if stats.ConnectionsTotal != 1 {
		t.Errorf("connections_total = %d, want 1", stats.ConnectionsTotal)
	}
	if stats.MessagesSent != 1 {
		t.Errorf("messages_sent = %d, want 1 (welcome)", stats.MessagesSent)
	}
	if len(srv.GetAllClients()) != 0 {
		t.Errorf("GetAllClients() = %v, want empty", srv.GetAllClients())
	}
}

func TestWelcomeFrameContents(t *testing.T) {
	cfg := testConfig()
	cfg.ServerName = "Test Hub"
	srv := startServer(t, cfg, nil)

	conn := dial(t, srv)
	welcome := readMessage(t, conn)

	info, ok := welcome["server_info"].(map[string]any)
	if !ok {
		t.Fatalf("server_info = %#v", welcome["server_info"])
	}
	if info["name"] != "Test Hub" {
		t.Errorf("server_info.name = %v, want Test Hub", info["name"])
	}
	caps, _ := info["capabilities"].([]any)
	if len(caps) != len(config.DefaultCapabilities) {
		t.Errorf("server_info.capabilities = %v", caps)
	}
	if _, ok := welcome.StringField(protocol.FieldTimestamp); !ok {
		t.Error("welcome has no timestamp")
	}
}

func TestMaxClientsRejectsExtraConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxClients = 1
	srv := startServer(t, cfg, nil)

	first := dial(t, srv)
	second := dial(t, srv)

	type result struct {
		welcome bool
		closed  bool
	}
	read := func(conn net.Conn) result {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msg, err := protocol.ReadFrame(bufio.NewReader(conn))
		if err == nil && msg.Type() == protocol.TypeWelcome {
			return result{welcome: true}
		}
		return result{closed: errors.Is(err, io.EOF) || isConnReset(err)}
	}

	results := make(chan result, 2)
	go func() { results <- read(first) }()
	go func() { results <- read(second) }()

	welcomes, closed := 0, 0
	for i := 0; i < 2; i++ {
		r := <-results
		if r.welcome {
			welcomes++
		}
		if r.closed {
			closed++
		}
	}

	if welcomes != 1 || closed != 1 {
		t.Errorf("welcomes = %d, closed = %d, want 1 and 1", welcomes, closed)
	}

	stats := srv.GetStatistics()
	if stats.ConnectionsTotal != 1 {
		t.Errorf("connections_total = %d, want 1", stats.ConnectionsTotal)
	}
	if stats.Errors != 0 {
		t.Errorf("errors = %d, rejection must not count as an error", stats.Errors)
	}
}

func TestMalformedFrameKeepsSession(t *testing.T) {
	log := &handlerLog{}
	srv := startServer(t, testConfig(), log.handle)
	conn, clientID := connectClient(t, srv)

	writeRaw(t, conn, `{"type": broken`)
	reply := readMessage(t, conn)
	if reply.Type() != protocol.TypeError {
		t.Fatalf("reply type = %q, want error", reply.Type())
	}
	if reason, _ := reply.StringField(protocol.FieldMessage); reason == "" {
		t.Error("error reply has no message")
	}

	writeRaw(t, conn, `{"module_id":"dash"}`)
	if reply := readMessage(t, conn); reply.Type() != protocol.TypeError {
		t.Fatalf("reply to missing type = %q, want error", reply.Type())
	}

	writeMessage(t, conn, protocol.Message{"type": "heartbeat"})
	eventually(t, "heartbeat after malformed frames", func() bool {
		return len(log.all()) == 1
	})

	if info, ok := srv.GetClient(clientID); !ok || info.Status != StatusConnected {
		t.Errorf("session should remain connected, got %+v (found=%v)", info, ok)
	}
	stats := srv.GetStatistics()
	if stats.Errors != 2 {
		t.Errorf("errors = %d, want 2", stats.Errors)
	}
	if stats.MessagesReceived != 1 {
		t.Errorf("messages_received = %d, want 1", stats.MessagesReceived)
	}
}

func TestUnknownTypeIsTolerated(t *testing.T) {
	log := &handlerLog{}
	srv := startServer(t, testConfig(), log.handle)
	conn, clientID := connectClient(t, srv)

	writeMessage(t, conn, protocol.Message{"type": "future_feature"})
	writeMessage(t, conn, protocol.Message{"type": "sensor_data", "data_type": "tpms"})

	eventually(t, "sensor data to reach the handler", func() bool {
		return len(log.all()) == 1
	})

	got := log.all()
	if got[0].category != protocol.CategorySensorData {
		t.Errorf("handler saw %v, want sensor_data only", got[0].category)
	}
	if _, ok := srv.GetClient(clientID); !ok {
		t.Error("unknown type must not disconnect the client")
	}
	if srv.GetStatistics().Errors != 0 {
		t.Error("unknown type must not count as an error")
	}

	_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := protocol.ReadFrame(conn); err == nil {
		t.Error("unknown type must not be answered")
	}
}

func TestMetadataFromAnyMessage(t *testing.T) {
	srv := startServer(t, testConfig(), nil)
	conn, clientID := connectClient(t, srv)

	writeMessage(t, conn, protocol.Message{
		"type":         "sensor_data",
		"module_id":    "dash-left",
		"capabilities": []string{"gauges", "alerts"},
	})

	eventually(t, "metadata update", func() bool {
		info, _ := srv.GetClient(clientID)
		return info.ModuleID == "dash-left" && len(info.Capabilities) == 2
	})

	writeMessage(t, conn, protocol.Message{"type": "status", "module_id": "dash-right"})
	eventually(t, "second metadata update", func() bool {
		info, _ := srv.GetClient(clientID)
		return info.ModuleID == "dash-right" && len(info.Capabilities) == 2
	})
}

func TestMessagesProcessedInOrder(t *testing.T) {
	log := &handlerLog{}
	srv := startServer(t, testConfig(), log.handle)
	conn, _ := connectClient(t, srv)

	const n = 50
	for i := 0; i < n; i++ {
		writeMessage(t, conn, protocol.Message{"type": "sensor_data", "seq": float64(i)})
	}

	eventually(t, "all messages", func() bool { return len(log.all()) == n })
	for i, rec := range log.all() {
		if rec.msg["seq"] != float64(i) {
			t.Fatalf("message %d has seq %v", i, rec.msg["seq"])
		}
	}
}

func TestHeartbeatSweepEvictsSilentSession(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatTimeout = 30 * time.Second
	srv := startServer(t, cfg, nil)
	conn, clientID := connectClient(t, srv)

	info, _ := srv.GetClient(clientID)

	if n := srv.sweepHeartbeats(info.LastActivity.Add(cfg.HeartbeatTimeout)); n != 0 {
		t.Errorf("sweep at exactly the timeout evicted %d, want 0", n)
	}
	if n := srv.sweepHeartbeats(info.LastActivity.Add(cfg.HeartbeatTimeout + time.Second)); n != 1 {
		t.Fatalf("sweep past the timeout evicted %d, want 1", n)
	}

	expectClosed(t, conn)
	if srv.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", srv.ClientCount())
	}
	if n := srv.sweepHeartbeats(time.Now().Add(time.Hour)); n != 0 {
		t.Errorf("second sweep evicted %d, want 0", n)
	}
}

func TestHeartbeatMonitorTrafficResetsEligibility(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 150 * time.Millisecond
	srv := startServer(t, cfg, nil)

	chatty, chattyID := connectClient(t, srv)
	silent, silentID := connectClient(t, srv)

	stop := time.After(400 * time.Millisecond)
	ticker := time.NewTicker(40 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			writeMessage(t, chatty, protocol.Message{"type": "status", "status": "ok"})
		case <-stop:
			break loop
		}
	}

	if _, ok := srv.GetClient(chattyID); !ok {
		t.Error("client sending traffic was evicted")
	}
	if _, ok := srv.GetClient(silentID); ok {
		t.Error("silent client was not evicted")
	}
	expectClosed(t, silent)
}

func TestCleanupSweepRemovesStaleEntries(t *testing.T) {
	srv, err := New(testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	live := sessionFrom(t, "10.0.0.1:1000", time.Now())
	stale := sessionFrom(t, "10.0.0.2:1000", time.Now())
	srv.registry.Add(live)
	srv.registry.Add(stale)
	stale.terminate(StatusDisconnected)

	if n := srv.sweepDisconnected(); n != 1 {
		t.Errorf("sweepDisconnected() = %d, want 1", n)
	}
	if n := srv.sweepDisconnected(); n != 0 {
		t.Errorf("second sweepDisconnected() = %d, want 0", n)
	}
	if _, ok := srv.registry.Get(live.ID()); !ok {
		t.Error("live session was removed")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	srv, err := New(testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	sess := sessionFrom(t, "10.0.0.1:1000", time.Now())
	srv.registry.Add(sess)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := StatusDisconnected
			if i%2 == 0 {
				status = StatusError
			}
			if srv.disconnect(sess, status, "test") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("disconnect() won %d times, want 1", wins)
	}
	if srv.registry.Len() != 0 {
		t.Errorf("registry Len() = %d, want 0", srv.registry.Len())
	}
	if srv.GetStatistics().ConnectionsActive != 0 {
		t.Errorf("connections_active = %d, want 0", srv.GetStatistics().ConnectionsActive)
	}
}

// failingConn fails every write
type failingConn struct {
	net.Conn
}

func (failingConn) Write([]byte) (int, error) {
	return 0, errors.New("induced write failure")
}

func TestBroadcastIsolatesFailingPeers(t *testing.T) {
	srv, err := New(testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	received := make(chan string, 4)
	addReader := func(remote string) *Session {
		a, b := net.Pipe()
		t.Cleanup(func() {
			_ = a.Close()
			_ = b.Close()
		})
		sess := newSession(addrConn{Conn: a, remote: fakeAddr(remote)}, time.Now())
		sess.markConnected()
		srv.registry.Add(sess)
		go func() {
			msg, err := protocol.ReadFrame(b)
			if err == nil {
				received <- remote + " " + msg.Type()
			}
		}()
		return sess
	}

	good1 := addReader("10.0.0.1:1000")
	good2 := addReader("10.0.0.2:1000")

	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	broken := newSession(addrConn{Conn: failingConn{a}, remote: fakeAddr("10.0.0.3:1000")}, time.Now())
	broken.markConnected()
	srv.registry.Add(broken)

	// never reads: the write blocks until the write deadline
	c, d := net.Pipe()
	t.Cleanup(func() {
		_ = c.Close()
		_ = d.Close()
	})
	stalled := newSession(addrConn{Conn: c, remote: fakeAddr("10.0.0.4:1000")}, time.Now())
	stalled.markConnected()
	srv.registry.Add(stalled)

	start := time.Now()
	delivered := srv.Broadcast(protocol.Message{"type": "command", "command": "dim"}, "")
	elapsed := time.Since(start)

	if delivered != 2 {
		t.Errorf("Broadcast() delivered %d, want 2", delivered)
	}
	if elapsed > 3*srv.cfg.WriteTimeout {
		t.Errorf("Broadcast() took %v, slow peer blocked the others", elapsed)
	}

	for i := 0; i < 2; i++ {
		select {
		case got := <-received:
			if got != "10.0.0.1:1000 command" && got != "10.0.0.2:1000 command" {
				t.Errorf("unexpected delivery %q", got)
			}
		case <-time.After(time.Second):
			t.Fatal("healthy peer did not receive the broadcast")
		}
	}

	if broken.Status() != StatusError || stalled.Status() != StatusError {
		t.Errorf("failing peers status = %v / %v, want error", broken.Status(), stalled.Status())
	}
	if srv.registry.Len() != 2 {
		t.Errorf("registry Len() = %d, want 2", srv.registry.Len())
	}
	if !good1.Connected() || !good2.Connected() {
		t.Error("healthy peers were disturbed")
	}
	if got := srv.GetStatistics().Errors; got != 2 {
		t.Errorf("errors = %d, want 2", got)
	}
}

func TestBroadcastExcludesClient(t *testing.T) {
	srv := startServer(t, testConfig(), nil)
	connA, idA := connectClient(t, srv)
	connB, _ := connectClient(t, srv)

	if n := srv.Broadcast(protocol.Message{"type": "status", "status": "night_mode"}, idA); n != 1 {
		t.Fatalf("Broadcast() = %d, want 1", n)
	}

	if msg := readMessage(t, connB); msg.Type() != "status" {
		t.Errorf("B got %q, want status", msg.Type())
	}
	_ = connA.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := protocol.ReadFrame(connA); err == nil {
		t.Error("excluded client received the broadcast")
	}
}

func TestSendToClient(t *testing.T) {
	srv := startServer(t, testConfig(), nil)
	conn, clientID := connectClient(t, srv)

	if srv.SendToClient("nobody", protocol.Message{"type": "command"}) {
		t.Error("SendToClient() to an unknown ID should fail")
	}

	if !srv.SendToClient(clientID, protocol.Message{"type": "command", "command": "reboot"}) {
		t.Fatal("SendToClient() failed")
	}
	msg := readMessage(t, conn)
	if cmd, _ := msg.StringField("command"); cmd != "reboot" {
		t.Errorf("command = %q, want reboot", cmd)
	}

	eventually(t, "welcome and command to be counted", func() bool {
		return srv.GetStatistics().MessagesSent == 2
	})
	if stats := srv.GetStatistics(); stats.BytesSent == 0 {
		t.Error("bytes_sent not updated")
	}
}

func TestHandlerPanicIsolatedToSession(t *testing.T) {
	srv := startServer(t, testConfig(), func(c protocol.Category, msg protocol.Message) {
		if c == protocol.CategoryCommand {
			panic("business logic bug")
		}
	})

	bad, badID := connectClient(t, srv)
	good, goodID := connectClient(t, srv)

	writeMessage(t, bad, protocol.Message{"type": "command", "command": "explode"})
	expectClosed(t, bad)

	if _, ok := srv.GetClient(badID); ok {
		t.Error("faulted session still registered")
	}
	if _, ok := srv.GetClient(goodID); !ok {
		t.Error("other session was affected")
	}

	writeMessage(t, good, protocol.Message{"type": "heartbeat"})
	connectClient(t, srv)
}

func TestOversizedFrameDisconnects(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFrameSize = 64
	srv := startServer(t, cfg, nil)
	conn, clientID := connectClient(t, srv)

	header := make([]byte, protocol.HeaderSize)
	binary.BigEndian.PutUint32(header, 1<<20)
	if _, err := conn.Write(header); err != nil {
		t.Fatal(err)
	}

	expectClosed(t, conn)
	eventually(t, "oversized sender to be removed", func() bool {
		_, ok := srv.GetClient(clientID)
		return !ok
	})
}

func TestStopTearsDownSessions(t *testing.T) {
	srv, err := New(testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	connA, _ := connectClient(t, srv)
	connB, _ := connectClient(t, srv)
	addr := srv.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	expectClosed(t, connA)
	expectClosed(t, connB)
	if n := len(srv.GetAllClients()); n != 0 {
		t.Errorf("GetAllClients() has %d entries after Stop", n)
	}
	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Error("listener still accepting after Stop")
	}
	if err := srv.Stop(ctx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if srv.GetStatistics().UptimeSeconds != 0 {
		t.Error("uptime should be zero once stopped")
	}
}

func TestStopAbandonsBlockedSend(t *testing.T) {
	cfg := testConfig()
	cfg.WriteTimeout = 30 * time.Second
	srv, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	_, clientID := connectClient(t, srv)

	// the client never reads again, so socket buffers fill and a write blocks
	blob := strings.Repeat("x", 1<<20)
	var lastSent atomic.Int64
	lastSent.Store(time.Now().UnixNano())
	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		for srv.SendToClient(clientID, protocol.Message{"type": "command", "blob": blob}) {
			lastSent.Store(time.Now().UnixNano())
		}
	}()

	eventually(t, "a send to stall", func() bool {
		return time.Since(time.Unix(0, lastSent.Load())) > 300*time.Millisecond
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop() took %v with a send in flight", elapsed)
	}

	select {
	case <-sendDone:
	case <-time.After(time.Second):
		t.Fatal("blocked send was not released by Stop")
	}

	stats := srv.GetStatistics()
	if stats.ConnectionsActive != 0 {
		t.Errorf("connections_active = %d after Stop", stats.ConnectionsActive)
	}
	if stats.Errors != 0 {
		t.Errorf("errors = %d, an abandoned send is not a fault", stats.Errors)
	}
}

func TestStartFailsWhenPortInUse(t *testing.T) {
	first := startServer(t, testConfig(), nil)

	cfg := testConfig()
	_, portStr, _ := net.SplitHostPort(first.Addr().String())
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Port = port

	second, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Start(); err == nil {
		_ = second.Stop(context.Background())
		t.Error("Start() on a used port should fail")
	}
}

func TestCaptureRecordsFrames(t *testing.T) {
	cfg := testConfig()
	cfg.CaptureDir = t.TempDir()
	srv := startServer(t, cfg, nil)

	conn, _ := connectClient(t, srv)
	writeMessage(t, conn, protocol.Message{"type": "heartbeat", "module_id": "dash"})
	writeRaw(t, conn, "garbage")
	readMessage(t, conn) // error reply

	path := srv.capture.Path(time.Now())
	eventually(t, "capture file", func() bool {
		data, err := os.ReadFile(path)
		return err == nil && countLines(data) >= 4
	})

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var inbound, outbound, malformed int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec CaptureRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("invalid capture line %q: %v", scanner.Text(), err)
		}
		switch {
		case rec.Error != "":
			malformed++
		case rec.Direction == DirectionInbound:
			inbound++
		case rec.Direction == DirectionOutbound:
			outbound++
		}
	}

	if inbound != 1 || outbound != 2 || malformed != 1 {
		t.Errorf("inbound/outbound/malformed = %d/%d/%d, want 1/2/1", inbound, outbound, malformed)
	}
}

func TestNewRejectsMissingCaptureDir(t *testing.T) {
	cfg := testConfig()
	cfg.CaptureDir = "/nonexistent/sensorhub/captures"
	if _, err := New(cfg, nil); err == nil {
		t.Error("New() should fail for a missing capture directory")
	}
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
