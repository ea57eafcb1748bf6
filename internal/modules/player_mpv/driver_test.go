package playermpv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeMPV serves the mpv JSON IPC protocol on a unix socket and records
// every command it receives.
type fakeMPV struct {
	t    *testing.T
	sock string
	ln   net.Listener

	mu       sync.Mutex
	commands []string
	path     any
	events   []string
}

func newFakeMPV(t *testing.T) *fakeMPV {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "mpv.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeMPV{t: t, sock: sock, ln: ln}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeMPV) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeMPV) handle(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req struct {
			Command   []any `json:"command"`
			RequestID int   `json:"request_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || len(req.Command) == 0 {
			continue
		}
		parts := make([]string, len(req.Command))
		for i, a := range req.Command {
			parts[i] = fmt.Sprint(a)
		}
		line := strings.Join(parts, " ")

		f.mu.Lock()
		f.commands = append(f.commands, line)
		path := f.path
		events := f.events
		f.mu.Unlock()

		switch req.Command[0] {
		case "get_property":
			if req.Command[1] == "path" && path == nil {
				fmt.Fprintf(conn, "{\"error\":\"property unavailable\",\"request_id\":%d}\n", req.RequestID)
				continue
			}
			data, _ := json.Marshal(path)
			fmt.Fprintf(conn, "{\"data\":%s,\"error\":\"success\",\"request_id\":%d}\n", data, req.RequestID)
		case "observe_property":
			fmt.Fprintf(conn, "{\"error\":\"success\",\"request_id\":%d}\n", req.RequestID)
			for _, e := range events {
				fmt.Fprintln(conn, e)
			}
		case "fail":
			fmt.Fprintf(conn, "{\"error\":\"invalid parameter\",\"request_id\":%d}\n", req.RequestID)
		default:
			fmt.Fprintf(conn, "{\"error\":\"success\",\"request_id\":%d}\n", req.RequestID)
		}
	}
}

func (f *fakeMPV) setPath(p any) {
	f.mu.Lock()
	f.path = p
	f.mu.Unlock()
}

func (f *fakeMPV) setEvents(lines ...string) {
	f.mu.Lock()
	f.events = lines
	f.mu.Unlock()
}

func (f *fakeMPV) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func testDriver(t *testing.T, f *fakeMPV) *Driver {
	t.Helper()
	d := newDriver(f.sock, zap.NewNop())
	t.Cleanup(func() { d.Close() })
	return d
}

func TestLoadQueueReplacesWhenNothingPlays(t *testing.T) {
	f := newFakeMPV(t)
	d := testDriver(t, f)

	if err := d.LoadQueue([]string{"/m/idle/a.mp4", "/m/random/b.mp4"}); err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	got := f.received()
	want := []string{
		"get_property path",
		"loadfile /m/idle/a.mp4 replace",
		"loadfile /m/random/b.mp4 append",
	}
	if len(got) != len(want) {
		t.Fatalf("commands = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadQueueKeepsPlayingHead(t *testing.T) {
	f := newFakeMPV(t)
	f.setPath("/m/idle/a.mp4")
	d := testDriver(t, f)

	queue := []string{"/m/idle/a.mp4", "/m/random/r.mp4", "/m/idle/c.mp4"}
	if err := d.LoadQueue(queue); err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	got := f.received()
	want := []string{
		"get_property path",
		"playlist-clear",
		"loadfile /m/random/r.mp4 append",
		"loadfile /m/idle/c.mp4 append",
	}
	if len(got) != len(want) {
		t.Fatalf("commands = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadQueueEmpty(t *testing.T) {
	f := newFakeMPV(t)
	d := testDriver(t, f)
	if err := d.LoadQueue(nil); err == nil {
		t.Fatalf("expected error for empty queue")
	}
}

func TestControlCommandWireFormat(t *testing.T) {
	f := newFakeMPV(t)
	d := testDriver(t, f)

	if err := d.SetLoop(true); err != nil {
		t.Fatalf("SetLoop: %v", err)
	}
	if err := d.SetLoop(false); err != nil {
		t.Fatalf("SetLoop: %v", err)
	}
	if err := d.SetPause(true); err != nil {
		t.Fatalf("SetPause: %v", err)
	}
	if err := d.SkipNext(); err != nil {
		t.Fatalf("SkipNext: %v", err)
	}
	if err := d.PlayIndex(0); err != nil {
		t.Fatalf("PlayIndex: %v", err)
	}

	got := f.received()
	want := []string{
		"set_property loop-playlist inf",
		"set_property loop-playlist no",
		"set_property pause true",
		"playlist-next force",
		"playlist-play-index 0",
	}
	if len(got) != len(want) {
		t.Fatalf("commands = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCurrentPath(t *testing.T) {
	f := newFakeMPV(t)
	d := testDriver(t, f)

	path, err := d.CurrentPath()
	if err != nil {
		t.Fatalf("CurrentPath: %v", err)
	}
	if path != "" {
		t.Fatalf("idle engine should report empty path, got %q", path)
	}

	f.setPath("/m/idle/a.mp4")
	path, err = d.CurrentPath()
	if err != nil {
		t.Fatalf("CurrentPath: %v", err)
	}
	if path != "/m/idle/a.mp4" {
		t.Fatalf("path = %q", path)
	}
}

func TestCommandErrorFromEngine(t *testing.T) {
	f := newFakeMPV(t)
	d := testDriver(t, f)

	err := d.exec("fail")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "invalid parameter") {
		t.Fatalf("err = %v", err)
	}
}

func TestEventsStreamPathChanges(t *testing.T) {
	f := newFakeMPV(t)
	f.setEvents(
		`{"event":"property-change","id":1,"name":"path","data":"/m/random/r.mp4"}`,
		`{"event":"pause"}`,
		`{"event":"property-change","id":1,"name":"path","data":null}`,
	)
	d := testDriver(t, f)
	d.wg.Add(1)
	go d.observeLoop()

	want := []string{"/m/random/r.mp4", ""}
	for _, expected := range want {
		select {
		case ev := <-d.Events():
			if ev.Path != expected {
				t.Fatalf("event path = %q, want %q", ev.Path, expected)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", expected)
		}
	}
}
