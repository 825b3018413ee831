package sr7265

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
)

// fakeGateway is a loopback GPIB-LAN gateway fronting a scripted 7265
type fakeGateway struct {
	mu     sync.Mutex
	cmds   []string
	id     string
	status string
	xy     string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{id: "7265", status: "0", xy: "3.0e-03,4.0e-03"}
}

func (f *fakeGateway) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cmds))
	copy(out, f.cmds)
	return out
}

func (f *fakeGateway) setStatus(s string) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeGateway) serve(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				rd := bufio.NewReader(c)
				for {
					line, err := rd.ReadString('\r')
					if err != nil {
						return
					}
					cmd := strings.TrimSuffix(line, "\r")
					f.mu.Lock()
					f.cmds = append(f.cmds, cmd)
					resp := f.reply(cmd)
					f.mu.Unlock()
					c.Write([]byte(resp + "\r"))
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

// reply is called with f.mu held
func (f *fakeGateway) reply(cmd string) string {
	switch {
	case cmd == "ID":
		return f.id
	case cmd == "ST":
		return f.status
	case cmd == "XY.":
		return f.xy
	default:
		// set commands acknowledge with an empty prompt
		return ""
	}
}

func TestConnectChecksIdentity(t *testing.T) {
	gw := newFakeGateway()
	li := NewLockIn(gw.serve(t), false)
	defer li.Disconnect()
	if err := li.Connect(); err != nil {
		t.Fatal(err)
	}
}

func TestConnectRejectsStranger(t *testing.T) {
	gw := newFakeGateway()
	gw.id = "7280"
	li := NewLockIn(gw.serve(t), false)
	defer li.Disconnect()
	if err := li.Connect(); err != ErrWrongInstrument {
		t.Fatalf("expected ErrWrongInstrument, got %v", err)
	}
}

func TestConfigureSendsAllFour(t *testing.T) {
	gw := newFakeGateway()
	li := NewLockIn(gw.serve(t), false)
	defer li.Disconnect()
	if err := li.Configure(0.3); err != nil {
		t.Fatal(err)
	}
	want := []string{"CP 0", "FLOAT 1", "FET 1", "TC. 0.3"}
	got := gw.commands()
	if len(got) != len(want) {
		t.Fatalf("expected commands %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	tau, err := li.TimeConstant()
	if err != nil || tau != 0.3 {
		t.Errorf("expected stored tau 0.3, got %v err %v", tau, err)
	}
}

func TestConfigureRejectsNonpositiveTau(t *testing.T) {
	gw := newFakeGateway()
	li := NewLockIn(gw.serve(t), false)
	defer li.Disconnect()
	if err := li.Configure(0); err == nil {
		t.Fatal("expected an error for tau=0")
	}
	if len(gw.commands()) != 0 {
		t.Error("no commands should reach the instrument for a bad tau")
	}
}

func TestReadXYParsesPair(t *testing.T) {
	gw := newFakeGateway()
	li := NewLockIn(gw.serve(t), false)
	defer li.Disconnect()
	if err := li.Configure(0.1); err != nil {
		t.Fatal(err)
	}
	x, y, err := li.ReadXY()
	if err != nil {
		t.Fatal(err)
	}
	if x != 3.0e-3 || y != 4.0e-3 {
		t.Errorf("expected (3e-3, 4e-3), got (%v, %v)", x, y)
	}
}

func TestReadXYBeforeConfigureFails(t *testing.T) {
	gw := newFakeGateway()
	li := NewLockIn(gw.serve(t), false)
	defer li.Disconnect()
	if _, _, err := li.ReadXY(); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestOverloadedReadsBit4(t *testing.T) {
	gw := newFakeGateway()
	li := NewLockIn(gw.serve(t), false)
	defer li.Disconnect()
	over, err := li.Overloaded()
	if err != nil {
		t.Fatal(err)
	}
	if over {
		t.Error("status 0 should not read as overloaded")
	}
	gw.setStatus("16")
	over, err = li.Overloaded()
	if err != nil {
		t.Fatal(err)
	}
	if !over {
		t.Error("status 16 should read as overloaded")
	}
	// other bits set alongside
	gw.setStatus("21")
	over, err = li.Overloaded()
	if err != nil {
		t.Fatal(err)
	}
	if !over {
		t.Error("status 21 has bit 4 set and should read as overloaded")
	}
}

func TestAutoSensitivityFires(t *testing.T) {
	gw := newFakeGateway()
	li := NewLockIn(gw.serve(t), false)
	defer li.Disconnect()
	if err := li.AutoSensitivity(); err != nil {
		t.Fatal(err)
	}
	got := gw.commands()
	if len(got) != 1 || got[0] != "AS" {
		t.Errorf("expected a single AS command, got %v", got)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	li := NewLockIn(gw.serve(t), false)
	if err := li.Connect(); err != nil {
		t.Fatal(err)
	}
	if err := li.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if err := li.Disconnect(); err != nil {
		t.Fatal("second disconnect should be a no-op, got", err)
	}
}
