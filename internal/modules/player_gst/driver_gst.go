//go:build gstreamer

package playergst

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
)

// Driver plays queue entries through GStreamer pipelines built from a
// template. One pipeline runs at a time; end-of-stream advances to the next
// queue entry, wrapping around when looping is on. There is no push
// notification channel, so callers poll CurrentPath.
type Driver struct {
	mu       sync.Mutex
	template string
	device   string

	queue   []string
	index   int
	loop    bool
	paused  bool
	current *gst.Element
	playing string
	gen     uint64
	closed  bool
}

var gstInitOnce sync.Once

// NewDriver creates a GStreamer driver from a pipeline template. The
// template may reference {url} and {device}.
func NewDriver(template string, device string) (*Driver, error) {
	if strings.TrimSpace(template) == "" {
		template = `playbin uri="{url}"`
	}
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
	return &Driver{template: template, device: device}, nil
}

func (d *Driver) LoadQueue(paths []string) error {
	if len(paths) == 0 {
		return errors.New("empty queue")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("driver closed")
	}
	d.queue = append([]string(nil), paths...)
	d.index = 0
	// When the head entry is already playing, its pipeline keeps running
	// and only the tail changes; the next EOS picks up the new queue.
	return nil
}

func (d *Driver) PlayIndex(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("driver closed")
	}
	if index < 0 || index >= len(d.queue) {
		return fmt.Errorf("queue index %d out of range", index)
	}
	d.index = index
	return d.startLocked(d.queue[index])
}

func (d *Driver) SetPause(pause bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = pause
	if d.current == nil {
		return nil
	}
	state := gst.StatePlaying
	if pause {
		state = gst.StatePaused
	}
	return d.current.SetState(state)
}

func (d *Driver) SetLoop(loop bool) error {
	d.mu.Lock()
	d.loop = loop
	d.mu.Unlock()
	return nil
}

func (d *Driver) SkipNext() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("driver closed")
	}
	d.advanceLocked()
	return nil
}

func (d *Driver) CurrentPath() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.stopCurrentLocked()
	return nil
}

func (d *Driver) startLocked(path string) error {
	d.stopCurrentLocked()
	pipeline, err := d.buildPipeline(path)
	if err != nil {
		return err
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	if d.paused {
		_ = pipeline.SetState(gst.StatePaused)
	}
	d.current = pipeline
	d.playing = path
	d.gen++
	go d.watch(pipeline, d.gen)
	return nil
}

func (d *Driver) stopCurrentLocked() {
	if d.current != nil {
		_ = d.current.SetState(gst.StateNull)
		d.current = nil
	}
	d.playing = ""
}

// advanceLocked moves to the next queue entry, wrapping when looping.
// Past the end without loop, playback stops and CurrentPath goes empty.
func (d *Driver) advanceLocked() {
	d.stopCurrentLocked()
	next := d.index + 1
	if next >= len(d.queue) {
		if !d.loop || len(d.queue) == 0 {
			return
		}
		next = 0
	}
	d.index = next
	_ = d.startLocked(d.queue[next])
}

func (d *Driver) buildPipeline(path string) (*gst.Element, error) {
	uri := (&url.URL{Scheme: "file", Path: path}).String()
	pipeline := strings.ReplaceAll(d.template, "{url}", uri)
	pipeline = strings.ReplaceAll(pipeline, "{device}", d.device)
	el, err := gst.ParseLaunch(pipeline)
	if err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	return el, nil
}

// watch pops the pipeline bus until EOS or an error, then advances the
// queue. Stale watchers from replaced pipelines exit via the generation
// check.
func (d *Driver) watch(pipeline *gst.Element, gen uint64) {
	bus := pipeline.GetBus()
	if bus == nil {
		return
	}
	for {
		msg := bus.TimedPopFiltered(gst.ClockTime(500*time.Millisecond), gst.MessageEOS|gst.MessageError)
		d.mu.Lock()
		if d.closed || gen != d.gen {
			d.mu.Unlock()
			return
		}
		if msg == nil {
			d.mu.Unlock()
			continue
		}
		d.advanceLocked()
		d.mu.Unlock()
		return
	}
}
