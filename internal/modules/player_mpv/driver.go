package playermpv

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	playercore "github.com/mikey-austin/splice_box/internal/modules/player_core"
)

const errPropertyUnavailable = "property unavailable"

// Options configures the spawned mpv process.
type Options struct {
	Binary      string
	SocketPath  string
	AudioDevice string
	ExtraArgs   []string
	Logger      *zap.Logger
}

// Driver runs mpv as a child process and speaks its JSON IPC over a unix
// socket. It satisfies both playercore.Driver and playercore.Notifier: path
// changes are observed on a dedicated connection and pushed to Events.
type Driver struct {
	socket string
	log    *zap.Logger

	cmd      *exec.Cmd
	procDone chan struct{}

	reqMu sync.Mutex
	reqID int

	events    chan playercore.PathEvent
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Start spawns mpv in idle fullscreen mode and waits for its IPC socket to
// accept connections.
func Start(opts Options) (*Driver, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	binary := opts.Binary
	if binary == "" {
		binary = "mpv"
	}
	socket := opts.SocketPath
	if socket == "" {
		socket = filepath.Join(os.TempDir(), fmt.Sprintf("sb-mpv-%d.sock", os.Getpid()))
	}
	os.Remove(socket)

	args := []string{
		"--idle=yes",
		"--fullscreen",
		"--no-osc",
		"--no-input-default-bindings",
		"--ytdl=no",
		"--input-ipc-server=" + socket,
	}
	if opts.AudioDevice != "" {
		args = append(args, "--audio-device="+opts.AudioDevice)
	}
	args = append(args, opts.ExtraArgs...)

	cmd := exec.Command(binary, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}
	log.Info("media engine started",
		zap.String("binary", binary),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("socket", socket))

	d := newDriver(socket, log)
	d.cmd = cmd
	d.procDone = make(chan struct{})
	go func() {
		err := cmd.Wait()
		select {
		case <-d.closed:
		default:
			log.Warn("media engine exited", zap.Error(err))
		}
		close(d.procDone)
	}()

	if err := d.waitReady(10 * time.Second); err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("mpv ipc socket: %w", err)
	}
	d.wg.Add(1)
	go d.observeLoop()
	return d, nil
}

func newDriver(socket string, log *zap.Logger) *Driver {
	return &Driver{
		socket: socket,
		log:    log,
		events: make(chan playercore.PathEvent, 8),
		closed: make(chan struct{}),
	}
}

func (d *Driver) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.Dial("unix", d.socket)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// LoadQueue replaces mpv's playlist. When the first entry is the file
// already playing, it keeps playing and only the tail is swapped; mpv's
// playlist-clear removes everything except the current entry, which is
// exactly the continuity we want for queuing clips behind a running one.
func (d *Driver) LoadQueue(paths []string) error {
	if len(paths) == 0 {
		return errors.New("empty queue")
	}
	current, err := d.CurrentPath()
	if err != nil {
		current = ""
	}
	if current != "" && current == paths[0] {
		if err := d.exec("playlist-clear"); err != nil {
			return err
		}
		for _, p := range paths[1:] {
			if err := d.exec("loadfile", p, "append"); err != nil {
				return err
			}
		}
		return nil
	}
	if err := d.exec("loadfile", paths[0], "replace"); err != nil {
		return err
	}
	for _, p := range paths[1:] {
		if err := d.exec("loadfile", p, "append"); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) PlayIndex(index int) error {
	return d.exec("playlist-play-index", index)
}

func (d *Driver) SetPause(pause bool) error {
	return d.exec("set_property", "pause", pause)
}

func (d *Driver) SetLoop(loop bool) error {
	value := "no"
	if loop {
		value = "inf"
	}
	return d.exec("set_property", "loop-playlist", value)
}

func (d *Driver) SkipNext() error {
	return d.exec("playlist-next", "force")
}

// CurrentPath returns the playing file, or "" when mpv sits idle.
func (d *Driver) CurrentPath() (string, error) {
	data, err := d.command("get_property", "path")
	if err != nil {
		var me *mpvError
		if errors.As(err, &me) && me.Reason == errPropertyUnavailable {
			return "", nil
		}
		return "", err
	}
	if len(data) == 0 || string(data) == "null" {
		return "", nil
	}
	var path string
	if err := json.Unmarshal(data, &path); err != nil {
		return "", fmt.Errorf("decode path: %w", err)
	}
	return path, nil
}

// Events streams path property changes observed from mpv.
func (d *Driver) Events() <-chan playercore.PathEvent {
	return d.events
}

// Close asks mpv to quit and kills it if it lingers.
func (d *Driver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closed)
		if d.cmd != nil && d.cmd.Process != nil {
			_ = d.exec("quit")
			select {
			case <-d.procDone:
			case <-time.After(2 * time.Second):
				err = d.cmd.Process.Kill()
			}
		}
		d.wg.Wait()
	})
	return err
}

// observeLoop keeps a dedicated IPC connection subscribed to the path
// property, reconnecting with a short delay when mpv drops it.
func (d *Driver) observeLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.closed:
			return
		default:
		}
		if err := d.observeOnce(); err != nil {
			select {
			case <-d.closed:
				return
			case <-time.After(time.Second):
			}
		}
	}
}

type propertyChange struct {
	Event string          `json:"event"`
	Name  string          `json:"name"`
	Data  json.RawMessage `json:"data"`
}

func (d *Driver) observeOnce() error {
	conn, err := net.Dial("unix", d.socket)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-d.closed:
			conn.Close()
		case <-done:
		}
	}()

	payload, err := json.Marshal(ipcRequest{Command: []any{"observe_property", 1, "path"}})
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return err
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg propertyChange
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Event != "property-change" || msg.Name != "path" {
			continue
		}
		path := ""
		if len(msg.Data) > 0 && string(msg.Data) != "null" {
			_ = json.Unmarshal(msg.Data, &path)
		}
		select {
		case d.events <- playercore.PathEvent{Path: path}:
		case <-d.closed:
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
