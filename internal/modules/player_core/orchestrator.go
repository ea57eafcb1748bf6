package playercore

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/mikey-austin/splice_box/internal/telemetry"
	"github.com/mikey-austin/splice_box/pkg/sbx"
)

// Mode identifies what kind of content the player is currently in.
type Mode int

const (
	ModeIdle Mode = iota
	ModeEvent
	ModeRandom
)

func (m Mode) String() string {
	switch m {
	case ModeEvent:
		return "event"
	case ModeRandom:
		return "random"
	default:
		return "idle"
	}
}

// minRandomGapSeconds floors the spacing between random injections.
const minRandomGapSeconds = 5

// Options configures an Orchestrator.
type Options struct {
	Library Library
	Store   QueueStore
	Driver  Driver
	Clock   Clock
	Logger  *zap.Logger

	// IdleToRandomSeconds is how long idle must play undisturbed before a
	// random clip is injected.
	IdleToRandomSeconds int64

	// Engine and Sources are reported in status; they do not affect
	// playback decisions.
	Engine  string
	Sources []string
}

// Orchestrator owns every playback decision: starting idle loops, injecting
// event and random clips, and tracking what is playing. All state lives
// behind one mutex; triggers, the idle monitor, command dispatch, and engine
// path reports all serialize through it.
type Orchestrator struct {
	mu sync.Mutex

	lib    Library
	store  QueueStore
	driver Driver
	clock  Clock
	log    *zap.Logger

	engine  string
	sources []string

	idleToRandom int64
	mode         Mode
	currentPath  string
	lastEventAt  int64
	lastRandomAt int64
	paused       bool

	warnedNoIdle   bool
	warnedNoEvent  bool
	warnedNoRandom bool
}

// New creates an orchestrator. The driver is not touched until Start or the
// first Tick.
func New(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	idle := opts.IdleToRandomSeconds
	if idle <= 0 {
		idle = 60
	}
	return &Orchestrator{
		lib:          opts.Library,
		store:        opts.Store,
		driver:       opts.Driver,
		clock:        opts.Clock,
		log:          log,
		engine:       opts.Engine,
		sources:      opts.Sources,
		idleToRandom: idle,
	}
}

// Start loads a random idle clip and begins looping it. Missing idle media
// is not an error; the idle monitor retries every tick until files appear.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.startLocked()
}

func (o *Orchestrator) startLocked() error {
	idle, err := o.lib.PickRandom(CategoryIdle)
	if err != nil {
		if errors.Is(err, ErrNoMedia) {
			if !o.warnedNoIdle {
				o.log.Warn("no idle media found", zap.String("dir", o.lib.Dir(CategoryIdle)))
				o.warnedNoIdle = true
			}
			return nil
		}
		return fmt.Errorf("pick idle: %w", err)
	}
	o.warnedNoIdle = false
	queue := []string{idle}
	o.persistLocked(queue)
	if err := o.driver.LoadQueue(queue); err != nil {
		telemetry.EngineErrorsTotal.Inc()
		return fmt.Errorf("load idle queue: %w", err)
	}
	if err := o.driver.SetLoop(true); err != nil {
		telemetry.EngineErrorsTotal.Inc()
		return fmt.Errorf("enable loop: %w", err)
	}
	if err := o.driver.PlayIndex(0); err != nil {
		telemetry.EngineErrorsTotal.Inc()
		return fmt.Errorf("play idle: %w", err)
	}
	if err := o.driver.SetPause(false); err != nil {
		telemetry.EngineErrorsTotal.Inc()
		return fmt.Errorf("resume playback: %w", err)
	}
	o.paused = false
	o.currentPath = idle
	o.setModeLocked(ModeIdle)
	o.log.Info("idle playback started", zap.String("file", filepath.Base(idle)))
	return nil
}

// FireEvent injects an event clip, unless a random clip is currently
// playing. lastEventAt is always advanced, fired or not, so a burst of
// triggers during a random clip still delays the next random injection.
// The returned bool reports whether a clip actually started.
func (o *Orchestrator) FireEvent() (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fireEventLocked()
}

func (o *Orchestrator) fireEventLocked() (bool, error) {
	o.lastEventAt = o.clock.NowUnix()
	if o.mode == ModeRandom {
		telemetry.SuppressedTotal.Inc()
		o.log.Debug("event suppressed during random clip",
			zap.String("current", filepath.Base(o.currentPath)))
		return false, nil
	}
	event, err := o.lib.PickRandom(CategoryEvents)
	if err != nil {
		if errors.Is(err, ErrNoMedia) {
			if !o.warnedNoEvent {
				o.log.Warn("no event media found", zap.String("dir", o.lib.Dir(CategoryEvents)))
				o.warnedNoEvent = true
			}
			return false, nil
		}
		return false, fmt.Errorf("pick event: %w", err)
	}
	o.warnedNoEvent = false
	queue := []string{event}
	if idle, err := o.pickIdleFollowupLocked("no idle media to follow event"); err != nil {
		return false, err
	} else if idle != "" {
		queue = append(queue, idle)
	}
	o.persistLocked(queue)
	if err := o.applyQueueLocked(queue, false); err != nil {
		return false, err
	}
	if err := o.driver.PlayIndex(0); err != nil {
		telemetry.EngineErrorsTotal.Inc()
		return false, fmt.Errorf("play event: %w", err)
	}
	o.currentPath = event
	o.setModeLocked(ModeEvent)
	telemetry.InjectionsTotal.WithLabelValues("event").Inc()
	o.log.Info("event clip injected", zap.String("file", filepath.Base(event)))
	return true, nil
}

// FireRandom queues a random clip behind whatever is playing now, followed
// by a fresh idle clip. The current item keeps playing to its end; the
// random clip takes over when it finishes. When nothing is playing, the
// random clip starts immediately.
func (o *Orchestrator) FireRandom() (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fireRandomLocked()
}

func (o *Orchestrator) fireRandomLocked() (bool, error) {
	random, err := o.lib.PickRandom(CategoryRandom)
	if err != nil {
		if errors.Is(err, ErrNoMedia) {
			if !o.warnedNoRandom {
				o.log.Warn("no random media found", zap.String("dir", o.lib.Dir(CategoryRandom)))
				o.warnedNoRandom = true
			}
			return false, nil
		}
		return false, fmt.Errorf("pick random: %w", err)
	}
	o.warnedNoRandom = false
	resume := o.currentPath != ""
	var queue []string
	if resume {
		queue = append(queue, o.currentPath)
	}
	queue = append(queue, random)
	if idle, err := o.pickIdleFollowupLocked("no idle media to follow random clip"); err != nil {
		return false, err
	} else if idle != "" {
		queue = append(queue, idle)
	}
	o.persistLocked(queue)
	if err := o.applyQueueLocked(queue, false); err != nil {
		return false, err
	}
	if !resume {
		if err := o.driver.PlayIndex(0); err != nil {
			telemetry.EngineErrorsTotal.Inc()
			return false, fmt.Errorf("play random: %w", err)
		}
		o.currentPath = random
	}
	o.lastRandomAt = o.clock.NowUnix()
	telemetry.InjectionsTotal.WithLabelValues("random").Inc()
	o.log.Info("random clip queued",
		zap.String("file", filepath.Base(random)),
		zap.Bool("resume", resume))
	return true, nil
}

// pickIdleFollowupLocked returns a random idle path or "" when the idle
// library is empty, warning once per dry spell.
func (o *Orchestrator) pickIdleFollowupLocked(warning string) (string, error) {
	idle, err := o.lib.PickRandom(CategoryIdle)
	if err != nil {
		if errors.Is(err, ErrNoMedia) {
			if !o.warnedNoIdle {
				o.log.Warn(warning, zap.String("dir", o.lib.Dir(CategoryIdle)))
				o.warnedNoIdle = true
			}
			return "", nil
		}
		return "", fmt.Errorf("pick idle: %w", err)
	}
	o.warnedNoIdle = false
	return idle, nil
}

func (o *Orchestrator) applyQueueLocked(queue []string, loop bool) error {
	if err := o.driver.LoadQueue(queue); err != nil {
		telemetry.EngineErrorsTotal.Inc()
		return fmt.Errorf("load queue: %w", err)
	}
	if err := o.driver.SetLoop(loop); err != nil {
		telemetry.EngineErrorsTotal.Inc()
		return fmt.Errorf("set loop: %w", err)
	}
	return nil
}

// persistLocked writes the queue file. Persistence is advisory; playback
// carries on when the write fails.
func (o *Orchestrator) persistLocked(queue []string) {
	if err := o.store.Write(queue); err != nil {
		o.log.Warn("persist queue", zap.Error(err))
	}
}

// PauseToggle flips the pause state and returns the new value.
func (o *Orchestrator) PauseToggle() (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := !o.paused
	if err := o.driver.SetPause(next); err != nil {
		telemetry.EngineErrorsTotal.Inc()
		return o.paused, fmt.Errorf("set pause: %w", err)
	}
	o.paused = next
	return o.paused, nil
}

// Skip advances to the next queue entry.
func (o *Orchestrator) Skip() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.driver.SkipNext(); err != nil {
		telemetry.EngineErrorsTotal.Inc()
		return fmt.Errorf("skip next: %w", err)
	}
	return nil
}

// EnsureIdle restarts idle playback when nothing is playing or the current
// item is not from the idle library.
func (o *Orchestrator) EnsureIdle() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.currentPath != "" && o.lib.Contains(CategoryIdle, o.currentPath) {
		return nil
	}
	return o.startLocked()
}

// SetIdleToRandom applies a new idle threshold. Non-positive values are
// ignored.
func (o *Orchestrator) SetIdleToRandom(seconds int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seconds <= 0 {
		return
	}
	o.idleToRandom = seconds
}

// ResetTimers clears the event and random timestamps so the idle monitor
// treats the player as long idle. Used after the media library changes.
func (o *Orchestrator) ResetTimers() {
	o.mu.Lock()
	o.lastEventAt = 0
	o.lastRandomAt = 0
	o.mu.Unlock()
}

// OnPathChanged records what the engine reports as playing. The playback
// mode follows the library category of the reported path; random mode is
// entered here and nowhere else, so event suppression lasts exactly as long
// as a random clip is actually on screen. An empty path means the engine ran
// out of content; the next Tick restarts idle playback.
func (o *Orchestrator) OnPathChanged(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if path == o.currentPath {
		return
	}
	o.currentPath = path
	if path == "" {
		o.log.Debug("engine reports nothing playing")
		return
	}
	switch {
	case o.lib.Contains(CategoryRandom, path):
		o.setModeLocked(ModeRandom)
	case o.lib.Contains(CategoryIdle, path):
		o.setModeLocked(ModeIdle)
	case o.lib.Contains(CategoryEvents, path):
		o.setModeLocked(ModeEvent)
	}
	o.log.Debug("now playing",
		zap.String("file", filepath.Base(path)),
		zap.String("mode", o.mode.String()))
}

// Tick is the idle monitor step, run once a second. It restarts playback
// when the engine has nothing loaded and injects a random clip once idle
// has played undisturbed past the threshold.
func (o *Orchestrator) Tick() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.currentPath == "" {
		if err := o.startLocked(); err != nil {
			o.log.Warn("restart idle playback", zap.Error(err))
		}
		return
	}
	if o.mode == ModeRandom {
		return
	}
	if !o.lib.Contains(CategoryIdle, o.currentPath) {
		return
	}
	now := o.clock.NowUnix()
	if now-o.lastEventAt < o.idleToRandom {
		return
	}
	if now-o.lastRandomAt < o.randomGapLocked() {
		return
	}
	if _, err := o.fireRandomLocked(); err != nil {
		o.log.Warn("inject random clip", zap.Error(err))
	}
}

// randomGapLocked returns the minimum spacing between random injections:
// half the idle threshold, never under minRandomGapSeconds.
func (o *Orchestrator) randomGapLocked() int64 {
	gap := o.idleToRandom / 2
	if gap < minRandomGapSeconds {
		gap = minRandomGapSeconds
	}
	return gap
}

// Status returns a snapshot for status replies and the retained state topic.
func (o *Orchestrator) Status() sbx.PlayerStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	queue, err := o.store.Read()
	if err != nil {
		o.log.Debug("read queue", zap.Error(err))
	}
	base := ""
	if o.currentPath != "" {
		base = filepath.Base(o.currentPath)
	}
	return sbx.PlayerStatus{
		Mode:          o.mode.String(),
		CurrentPath:   o.currentPath,
		CurrentBase:   base,
		Paused:        o.paused,
		LastEventTS:   o.lastEventAt,
		LastRandomTS:  o.lastRandomAt,
		Queue:         queue,
		IdleToRandomS: o.idleToRandom,
		Sources:       o.sources,
		MediaRoot:     o.lib.Root,
		Engine:        o.engine,
		TS:            o.clock.NowUnix(),
	}
}

func (o *Orchestrator) setModeLocked(m Mode) {
	o.mode = m
	telemetry.PlaybackMode.Set(float64(m))
}
