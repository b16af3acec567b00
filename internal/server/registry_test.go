package server

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// addrConn gives a net.Pipe end a realistic remote address
type addrConn struct {
	net.Conn
	remote net.Addr
}

func (c addrConn) RemoteAddr() net.Addr { return c.remote }

func sessionFrom(t *testing.T, remote string, at time.Time) *Session {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	sess := newSession(addrConn{Conn: a, remote: fakeAddr(remote)}, at)
	sess.markConnected()
	return sess
}

func TestNewSessionMetadata(t *testing.T) {
	at := time.Unix(1700000000, 42)
	sess := sessionFrom(t, "192.168.4.20:51000", at)

	want := fmt.Sprintf("192.168.4.20_51000_%d", at.UnixNano())
	if sess.ID() != want {
		t.Errorf("ID() = %q, want %q", sess.ID(), want)
	}

	info := sess.Info()
	if info.ModuleID != "unknown" {
		t.Errorf("ModuleID = %q, want unknown", info.ModuleID)
	}
	if info.Capabilities == nil || len(info.Capabilities) != 0 {
		t.Errorf("Capabilities = %#v, want empty list", info.Capabilities)
	}
	if info.IPAddress != "192.168.4.20" || info.Port != 51000 {
		t.Errorf("remote = %s:%d", info.IPAddress, info.Port)
	}
	if !info.ConnectedAt.Equal(at) || !info.LastActivity.Equal(at) {
		t.Errorf("timestamps = %v / %v, want %v", info.ConnectedAt, info.LastActivity, at)
	}
	if info.Status != StatusConnected {
		t.Errorf("Status = %v, want connected", info.Status)
	}
}

func TestSessionTerminateOnce(t *testing.T) {
	sess := sessionFrom(t, "10.0.0.1:1000", time.Now())

	if !sess.terminate(StatusError) {
		t.Fatal("first terminate() should win")
	}
	if sess.terminate(StatusDisconnected) {
		t.Error("second terminate() should be a no-op")
	}
	if sess.Status() != StatusError {
		t.Errorf("Status() = %v, want error", sess.Status())
	}
}

func TestRegistryAddRemove(t *testing.T) {
	reg := NewRegistry()
	now := time.Now()
	a := sessionFrom(t, "10.0.0.1:1000", now)
	b := sessionFrom(t, "10.0.0.2:1000", now.Add(time.Millisecond))

	if !reg.Add(a) || !reg.Add(b) {
		t.Fatal("Add() failed")
	}
	if reg.Add(a) {
		t.Error("Add() of a duplicate ID should fail")
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}

	snap := reg.Snapshot()
	if len(snap) != 2 || snap[0] != a || snap[1] != b {
		t.Errorf("Snapshot() not ordered by connect time")
	}

	if !reg.Remove(a) {
		t.Error("Remove() should report removal")
	}
	if reg.Remove(a) {
		t.Error("second Remove() should be a no-op")
	}
	if _, ok := reg.Get(a.ID()); ok {
		t.Error("Get() found a removed session")
	}
}

func TestRegistryConnectedFiltersTerminal(t *testing.T) {
	reg := NewRegistry()
	live := sessionFrom(t, "10.0.0.1:1000", time.Now())
	dead := sessionFrom(t, "10.0.0.2:1000", time.Now())
	reg.Add(live)
	reg.Add(dead)
	dead.terminate(StatusDisconnected)

	connected := reg.Connected()
	if len(connected) != 1 || connected[0] != live {
		t.Errorf("Connected() = %v, want only the live session", connected)
	}

	removed := reg.RemoveIf(func(s *Session) bool { return s.Status().terminal() })
	if len(removed) != 1 || removed[0] != dead {
		t.Errorf("RemoveIf() = %v, want the dead session", removed)
	}
}

func TestRegistrySnapshotIsStable(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 20; i++ {
		reg.Add(sessionFrom(t, fmt.Sprintf("10.0.0.%d:1000", i), time.Now()))
	}

	snap := reg.Snapshot()

	var wg sync.WaitGroup
	for _, sess := range snap {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			reg.Remove(s)
		}(sess)
	}
	wg.Wait()

	if len(snap) != 20 {
		t.Errorf("snapshot changed length to %d", len(snap))
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}
