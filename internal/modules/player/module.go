// Package player wires one playback node together: the orchestrator, the
// engine driver, the idle monitor, the trigger dispatcher, and the MQTT
// command surface.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/splice_box/internal/btaudio"
	"github.com/mikey-austin/splice_box/internal/modules/player_core"
	"github.com/mikey-austin/splice_box/internal/modules/player_gst"
	"github.com/mikey-austin/splice_box/internal/modules/player_mpv"
	"github.com/mikey-austin/splice_box/internal/modules/triggers"
	"github.com/mikey-austin/splice_box/internal/sched"
	"github.com/mikey-austin/splice_box/internal/telemetry"
	"github.com/mikey-austin/splice_box/pkg/sbx"
)

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Config configures the player module.
type Config struct {
	NodeID    string
	TopicBase string
	Name      string

	MediaRoot string
	QueuePath string

	Engine              string
	IdleToRandomSeconds int64
	PublishState        bool

	AudioDevice  string
	MPVBinary    string
	MPVSocket    string
	MPVExtraArgs []string
	GSTPipeline  string

	TriggerSources []string
	GPIO           triggers.GPIOOptions
	ArtNet         triggers.ArtNetOptions
	SACN           triggers.SACNOptions

	BluetoothMAC string

	DailyShutdownTime string
	ShutdownCommand   string

	// ReloadThreshold re-reads the daemon config and returns the idle
	// threshold for config.reload. Nil disables the command.
	ReloadThreshold func() (int64, error)
}

// Module runs a single player node.
type Module struct {
	log      *zap.Logger
	client   mqttClient
	config   Config
	lib      playercore.Library
	driver   playercore.Driver
	orch     *playercore.Orchestrator
	bt       *btaudio.Client
	cmdTopic string

	stateMu   sync.Mutex
	lastState []byte
}

// NewModule builds the driver and orchestrator for one node. A failed engine
// spawn surfaces here so the daemon can disable the module and carry on.
func NewModule(log *zap.Logger, client mqttClient, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("node_id required")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = sbx.BaseTopic
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "Splice Box Player"
	}
	if strings.TrimSpace(cfg.MediaRoot) == "" {
		return nil, errors.New("media root required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	lib := playercore.Library{Root: cfg.MediaRoot}
	if err := lib.EnsureDirs(); err != nil {
		return nil, err
	}

	driver, err := buildDriver(log, cfg)
	if err != nil {
		return nil, err
	}

	orch := playercore.New(playercore.Options{
		Library:             lib,
		Store:               playercore.QueueStore{Path: cfg.QueuePath},
		Driver:              driver,
		Clock:               wallClock{},
		Logger:              log,
		IdleToRandomSeconds: cfg.IdleToRandomSeconds,
		Engine:              cfg.Engine,
		Sources:             cfg.TriggerSources,
	})

	return &Module{
		log:      log,
		client:   client,
		config:   cfg,
		lib:      lib,
		driver:   driver,
		orch:     orch,
		bt:       btaudio.New(log),
		cmdTopic: sbx.TopicCommands(cfg.TopicBase, cfg.NodeID),
	}, nil
}

func buildDriver(log *zap.Logger, cfg Config) (playercore.Driver, error) {
	switch cfg.Engine {
	case "", "mpv":
		return playermpv.Start(playermpv.Options{
			Binary:      cfg.MPVBinary,
			SocketPath:  cfg.MPVSocket,
			AudioDevice: cfg.AudioDevice,
			ExtraArgs:   cfg.MPVExtraArgs,
			Logger:      log,
		})
	case "gstreamer":
		return playergst.NewDriver(cfg.GSTPipeline, cfg.AudioDevice)
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}

type wallClock struct{}

func (wallClock) NowUnix() int64 { return time.Now().Unix() }

// Run serves the node until the context is cancelled.
func (m *Module) Run(ctx context.Context) error {
	defer func() {
		if err := m.driver.Close(); err != nil {
			m.log.Warn("close engine", zap.Error(err))
		}
	}()

	if mac := m.config.BluetoothMAC; mac != "" {
		go m.connectBluetooth(ctx, mac)
	}

	if err := m.publishPresence(); err != nil {
		return err
	}

	handler := func(_ paho.Client, msg paho.Message) {
		m.handleMessage(msg)
	}
	if err := m.client.Subscribe(m.cmdTopic, 1, handler); err != nil {
		return err
	}
	defer m.client.Unsubscribe(m.cmdTopic)

	if err := m.orch.Start(); err != nil {
		m.log.Error("start playback", zap.Error(err))
	}

	go m.runEnginePump(ctx)
	go m.runStatePublisher(ctx)

	monitor := playercore.IdleMonitor{Orch: m.orch, Interval: time.Second}
	go func() { _ = monitor.Run(ctx) }()

	if len(m.config.TriggerSources) > 0 {
		dispatcher := triggers.New(triggers.Options{
			Sources: m.config.TriggerSources,
			GPIO:    m.config.GPIO,
			ArtNet:  m.config.ArtNet,
			SACN:    m.config.SACN,
			OnTrigger: func(source string) {
				if _, err := m.FireEvent(source); err != nil {
					m.log.Warn("trigger event", zap.String("source", source), zap.Error(err))
				}
			},
			Logger: m.log,
		})
		go func() { _ = dispatcher.Run(ctx) }()
	}

	m.scheduleDailyShutdown(ctx)

	<-ctx.Done()
	return nil
}

func (m *Module) connectBluetooth(ctx context.Context, mac string) {
	btCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if m.bt.EnsureConnected(btCtx, mac) {
		m.log.Info("bluetooth sink connected", zap.String("mac", mac))
	} else {
		m.log.Warn("bluetooth sink unavailable", zap.String("mac", mac))
	}
}

func (m *Module) scheduleDailyShutdown(ctx context.Context) {
	at := m.config.DailyShutdownTime
	if at == "" {
		return
	}
	if m.config.ShutdownCommand == "" {
		m.log.Warn("daily_shutdown_time set but shutdown_command empty")
		return
	}
	hour, minute, err := sched.ParseDaily(at)
	if err != nil {
		m.log.Warn("invalid daily_shutdown_time", zap.String("value", at), zap.Error(err))
		return
	}
	job := sched.Daily{
		Hour:   hour,
		Minute: minute,
		Logger: m.log,
		Fn: func() {
			m.log.Info("daily shutdown", zap.String("command", m.config.ShutdownCommand))
			if err := runCommandLine(m.config.ShutdownCommand); err != nil {
				m.log.Error("daily shutdown failed", zap.Error(err))
			}
		},
	}
	go func() { _ = job.Run(ctx) }()
}

// runCommandLine executes a whitespace-split command string, the shape the
// shutdown/reboot passthroughs are configured with.
func runCommandLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.Command(fields[0], fields[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (%s)", fields[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// runEnginePump funnels the engine's now-playing reports into the
// orchestrator: pushed when the driver can notify, polled otherwise.
func (m *Module) runEnginePump(ctx context.Context) {
	if notifier, ok := m.driver.(playercore.Notifier); ok {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-notifier.Events():
				if !ok {
					return
				}
				m.orch.OnPathChanged(evt.Path)
			}
		}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			path, err := m.driver.CurrentPath()
			if err != nil {
				m.log.Debug("poll current path", zap.Error(err))
				continue
			}
			m.orch.OnPathChanged(path)
		}
	}
}

// runStatePublisher keeps the retained state topic current, publishing only
// when the snapshot actually changed.
func (m *Module) runStatePublisher(ctx context.Context) {
	if !m.config.PublishState {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.publishStateIfChanged()
		}
	}
}

func (m *Module) publishStateIfChanged() {
	status := m.orch.Status()
	fingerprint := status
	fingerprint.TS = 0
	key, err := json.Marshal(fingerprint)
	if err != nil {
		return
	}

	m.stateMu.Lock()
	changed := string(key) != string(m.lastState)
	if changed {
		m.lastState = key
	}
	m.stateMu.Unlock()
	if !changed {
		return
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := m.client.Publish(sbx.TopicState(m.config.TopicBase, m.config.NodeID), 1, true, payload); err != nil {
		m.log.Warn("publish state", zap.Error(err))
	}
}

func (m *Module) publishPresence() error {
	presence := sbx.Presence{
		NodeID: m.config.NodeID,
		Kind:   "player",
		Name:   m.config.Name,
		Caps: map[string]any{
			"engine":   m.config.Engine,
			"triggers": m.config.TriggerSources,
		},
		TS: time.Now().Unix(),
	}
	payload, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	return m.client.Publish(sbx.TopicPresence(m.config.TopicBase, m.config.NodeID), 1, true, payload)
}

// FireEvent injects an event clip and reports the firing on the evt topic.
// Hardware triggers, MQTT commands, and the HTTP API all come through here
// so the event trail and counters see every source.
func (m *Module) FireEvent(source string) (bool, error) {
	telemetry.TriggersTotal.WithLabelValues(source).Inc()
	fired, err := m.orch.FireEvent()
	m.publishTriggerEvent(source, fired)
	return fired, err
}

func (m *Module) publishTriggerEvent(source string, fired bool) {
	evt := sbx.TriggerEvent{
		Type:   sbx.TriggerEventType,
		Source: source,
		Fired:  fired,
		TS:     time.Now().Unix(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	topic := sbx.TopicEvents(m.config.TopicBase, m.config.NodeID)
	if err := m.client.Publish(topic, 1, false, payload); err != nil {
		m.log.Warn("publish trigger event", zap.Error(err))
	}
}

// FireRandom queues a random clip behind the current item.
func (m *Module) FireRandom() (bool, error) {
	return m.orch.FireRandom()
}

// Status returns the playback snapshot.
func (m *Module) Status() sbx.PlayerStatus {
	return m.orch.Status()
}

// StartPlayback (re)starts the idle loop.
func (m *Module) StartPlayback() error {
	return m.orch.Start()
}

// PauseToggle flips pause and returns the new state.
func (m *Module) PauseToggle() (bool, error) {
	return m.orch.PauseToggle()
}

// Skip advances to the next queue entry.
func (m *Module) Skip() error {
	return m.orch.Skip()
}

// EnsureIdle restarts idle playback when nothing suitable is playing.
func (m *Module) EnsureIdle() error {
	return m.orch.EnsureIdle()
}

// ReloadConfig re-reads the daemon config and applies the idle threshold.
// It returns the threshold now in force.
func (m *Module) ReloadConfig() (int64, error) {
	if m.config.ReloadThreshold == nil {
		return 0, errors.New("config reload not available")
	}
	seconds, err := m.config.ReloadThreshold()
	if err != nil {
		return 0, err
	}
	m.orch.SetIdleToRandom(seconds)
	return m.orch.Status().IdleToRandomS, nil
}

// ReloadMedia clears the injection timers so the idle monitor picks up fresh
// library content immediately.
func (m *Module) ReloadMedia() {
	m.orch.ResetTimers()
}

// MediaList reports the library contents, optionally for one category.
func (m *Module) MediaList(category string) (sbx.MediaListReply, error) {
	names := playercore.Categories
	if category != "" {
		if !playercore.ValidCategory(category) {
			return sbx.MediaListReply{}, fmt.Errorf("unknown category %q", category)
		}
		names = []string{category}
	}

	reply := sbx.MediaListReply{Root: m.lib.Root}
	for _, name := range names {
		paths, err := m.lib.List(name)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return reply, err
		}
		category := sbx.MediaCategory{Name: name, Files: []sbx.MediaFile{}}
		for _, path := range paths {
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			category.Files = append(category.Files, sbx.MediaFile{
				Name: filepath.Base(path),
				Size: info.Size(),
			})
		}
		reply.Categories = append(reply.Categories, category)
	}
	return reply, nil
}

func (m *Module) handleMessage(msg paho.Message) {
	var cmd sbx.CommandEnvelope
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		m.log.Warn("invalid command", zap.Error(err))
		return
	}
	reply := m.dispatch(cmd)
	m.publishReply(cmd.ReplyTo, reply)
}

func (m *Module) publishReply(replyTo string, reply sbx.ReplyEnvelope) {
	if replyTo != "" {
		payload, err := json.Marshal(reply)
		if err == nil {
			_ = m.client.Publish(replyTo, 1, false, payload)
		}
	}
	if m.config.PublishState {
		m.publishStateIfChanged()
	}
}

func (m *Module) dispatch(cmd sbx.CommandEnvelope) sbx.ReplyEnvelope {
	switch cmd.Type {
	case "status.get":
		return okReply(cmd, m.Status())
	case "trigger.event":
		fired, err := m.FireEvent("command")
		if err != nil {
			return errorReply(cmd, "ENGINE", err.Error())
		}
		return okReply(cmd, sbx.TriggerReply{Fired: fired})
	case "trigger.random":
		fired, err := m.FireRandom()
		if err != nil {
			return errorReply(cmd, "ENGINE", err.Error())
		}
		return okReply(cmd, sbx.TriggerReply{Fired: fired})
	case "playback.start":
		if err := m.StartPlayback(); err != nil {
			return errorReply(cmd, "ENGINE", err.Error())
		}
		return okReply(cmd, sbx.EmptyBody{})
	case "playback.pause":
		paused, err := m.PauseToggle()
		if err != nil {
			return errorReply(cmd, "ENGINE", err.Error())
		}
		return okReply(cmd, sbx.PauseReply{Paused: paused})
	case "playback.skip":
		if err := m.Skip(); err != nil {
			return errorReply(cmd, "ENGINE", err.Error())
		}
		return okReply(cmd, sbx.EmptyBody{})
	case "playback.ensure_idle":
		if err := m.EnsureIdle(); err != nil {
			return errorReply(cmd, "ENGINE", err.Error())
		}
		return okReply(cmd, sbx.EmptyBody{})
	case "config.reload":
		seconds, err := m.ReloadConfig()
		if err != nil {
			return errorReply(cmd, "INVALID", err.Error())
		}
		return okReply(cmd, sbx.ReloadReply{IdleToRandomS: seconds})
	case "media.reload":
		m.ReloadMedia()
		return okReply(cmd, sbx.EmptyBody{})
	case "media.list":
		var body sbx.MediaListBody
		if len(cmd.Body) > 0 {
			if err := json.Unmarshal(cmd.Body, &body); err != nil {
				return errorReply(cmd, "INVALID", "invalid body")
			}
		}
		list, err := m.MediaList(body.Category)
		if err != nil {
			return errorReply(cmd, "INVALID", err.Error())
		}
		return okReply(cmd, list)
	default:
		return errorReply(cmd, "INVALID", fmt.Sprintf("unknown command %q", cmd.Type))
	}
}

func okReply(cmd sbx.CommandEnvelope, body any) sbx.ReplyEnvelope {
	payload, err := json.Marshal(body)
	if err != nil {
		return errorReply(cmd, "INTERNAL", err.Error())
	}
	return sbx.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "ack",
		OK:   true,
		TS:   time.Now().Unix(),
		Body: payload,
	}
}

func errorReply(cmd sbx.CommandEnvelope, code string, message string) sbx.ReplyEnvelope {
	return sbx.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   time.Now().Unix(),
		Err:  &sbx.ReplyError{Code: code, Message: message},
	}
}
