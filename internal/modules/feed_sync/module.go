// Package feedsync pulls remote media into the library: each configured feed
// maps to one category, and enclosures are downloaded once into its
// directory.
package feedsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/mikey-austin/splice_box/internal/modules/player_core"
	"github.com/mikey-austin/splice_box/internal/telemetry"
	"github.com/mikey-austin/splice_box/pkg/sbx"
)

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Feed is one remote feed mapped to a media category.
type Feed struct {
	URL      string
	Category string
}

// Config configures the feed sync module.
type Config struct {
	NodeID    string
	TopicBase string
	Name      string
	MediaRoot string
	Feeds     []Feed
	Refresh   time.Duration
	Timeout   time.Duration
}

// Module ingests remote media on a schedule and on demand.
type Module struct {
	log      *zap.Logger
	client   mqttClient
	http     *http.Client
	config   Config
	lib      playercore.Library
	cmdTopic string

	syncMu sync.Mutex // one sync pass at a time

	mu   sync.Mutex
	last sbx.FeedStatus
}

// NewModule creates a feed sync module.
func NewModule(log *zap.Logger, client mqttClient, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("node_id required")
	}
	if strings.TrimSpace(cfg.MediaRoot) == "" {
		return nil, errors.New("media root required")
	}
	if len(cfg.Feeds) == 0 {
		return nil, errors.New("feeds required")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = sbx.BaseTopic
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "Splice Box Feed Sync"
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = 6 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	lib := playercore.Library{Root: cfg.MediaRoot}
	if err := lib.EnsureDirs(); err != nil {
		return nil, err
	}

	return &Module{
		log:      log,
		client:   client,
		http:     &http.Client{Timeout: cfg.Timeout},
		config:   cfg,
		lib:      lib,
		cmdTopic: sbx.TopicCommands(cfg.TopicBase, cfg.NodeID),
	}, nil
}

// Run syncs on startup, then on the refresh interval and on feed.sync
// commands, until the context is cancelled.
func (m *Module) Run(ctx context.Context) error {
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

	go m.SyncAll(ctx)

	ticker := time.NewTicker(m.config.Refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.SyncAll(ctx)
		}
	}
}

func (m *Module) publishPresence() error {
	presence := sbx.Presence{
		NodeID: m.config.NodeID,
		Kind:   "feed_sync",
		Name:   m.config.Name,
		Caps:   map[string]any{"feeds": len(m.config.Feeds)},
		TS:     time.Now().Unix(),
	}
	payload, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	return m.client.Publish(sbx.TopicPresence(m.config.TopicBase, m.config.NodeID), 1, true, payload)
}

// SyncAll runs one pass over every configured feed.
func (m *Module) SyncAll(ctx context.Context) sbx.FeedStatus {
	return m.sync(ctx, "")
}

// sync processes the configured feeds, restricted to one URL when filter is
// non-empty, and publishes the resulting retained status.
func (m *Module) sync(ctx context.Context, filter string) sbx.FeedStatus {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	status := sbx.FeedStatus{}
	for _, feed := range m.config.Feeds {
		if filter != "" && feed.URL != filter {
			continue
		}
		downloaded, skipped, failed := m.syncFeed(ctx, feed)
		status.Downloaded += downloaded
		status.Skipped += skipped
		status.Failed += failed
	}
	now := time.Now().Unix()
	status.LastSyncTS = now
	status.TS = now

	m.mu.Lock()
	m.last = status
	m.mu.Unlock()

	m.publishState(status)
	m.log.Info("feed sync finished",
		zap.Int("downloaded", status.Downloaded),
		zap.Int("skipped", status.Skipped),
		zap.Int("failed", status.Failed))
	return status
}

// Last returns the most recent sync outcome.
func (m *Module) Last() sbx.FeedStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Module) publishState(status sbx.FeedStatus) {
	payload, err := json.Marshal(status)
	if err != nil {
		return
	}
	topic := sbx.TopicState(m.config.TopicBase, m.config.NodeID)
	if err := m.client.Publish(topic, 1, true, payload); err != nil {
		m.log.Warn("publish feed state", zap.Error(err))
	}
}

func (m *Module) syncFeed(ctx context.Context, feed Feed) (downloaded, skipped, failed int) {
	if !playercore.ValidCategory(feed.Category) {
		m.log.Warn("feed has unknown category",
			zap.String("url", feed.URL),
			zap.String("category", feed.Category))
		return 0, 0, 1
	}

	parsed, err := m.fetchFeed(ctx, feed.URL)
	if err != nil {
		m.log.Warn("fetch feed", zap.String("url", feed.URL), zap.Error(err))
		return 0, 0, 1
	}

	dir := m.lib.Dir(feed.Category)
	for _, item := range parsed.Items {
		for _, enclosure := range item.Enclosures {
			if enclosure == nil || enclosure.URL == "" {
				continue
			}
			name := enclosureName(enclosure.URL)
			if name == "" {
				m.log.Warn("unusable enclosure url", zap.String("url", enclosure.URL))
				failed++
				continue
			}
			dest := filepath.Join(dir, name)
			if _, err := os.Stat(dest); err == nil {
				skipped++
				continue
			}
			if err := m.download(ctx, enclosure.URL, dest); err != nil {
				m.log.Warn("download enclosure",
					zap.String("url", enclosure.URL),
					zap.Error(err))
				failed++
				continue
			}
			telemetry.FeedDownloadsTotal.Inc()
			m.log.Info("downloaded media",
				zap.String("file", name),
				zap.String("category", feed.Category))
			downloaded++
		}
	}
	return downloaded, skipped, failed
}

func (m *Module) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "splice_box/1.0")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("feed fetch failed: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return gofeed.NewParser().ParseString(string(body))
}

// download fetches url into dest via a temp file so the library never lists
// a half-written download.
func (m *Module) download(ctx context.Context, srcURL string, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "splice_box/1.0")

	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	tmp := fmt.Sprintf("%s.tmp.%d", dest, time.Now().UnixNano())
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// enclosureName derives a safe local filename from an enclosure URL.
func enclosureName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return ""
	}
	// Base strips directories; dot-prefixed names would hide from the library.
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return ""
	}
	return name
}

func (m *Module) handleMessage(msg paho.Message) {
	var cmd sbx.CommandEnvelope
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		m.log.Warn("invalid command", zap.Error(err))
		return
	}

	if cmd.Type == "feed.sync" {
		// Downloads can run long; keep the shared MQTT router responsive.
		go m.handleSync(cmd)
		return
	}
	m.reply(cmd.ReplyTo, errorReply(cmd, "INVALID", fmt.Sprintf("unknown command %q", cmd.Type)))
}

func (m *Module) handleSync(cmd sbx.CommandEnvelope) {
	var body sbx.FeedSyncBody
	if len(cmd.Body) > 0 {
		if err := json.Unmarshal(cmd.Body, &body); err != nil {
			m.reply(cmd.ReplyTo, errorReply(cmd, "INVALID", "invalid body"))
			return
		}
	}
	if body.URL != "" && !m.knownFeed(body.URL) {
		m.reply(cmd.ReplyTo, errorReply(cmd, "INVALID", fmt.Sprintf("feed %q not configured", body.URL)))
		return
	}

	status := m.sync(context.Background(), body.URL)
	payload, err := json.Marshal(status)
	if err != nil {
		m.reply(cmd.ReplyTo, errorReply(cmd, "INTERNAL", err.Error()))
		return
	}
	m.reply(cmd.ReplyTo, sbx.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "ack",
		OK:   true,
		TS:   time.Now().Unix(),
		Body: payload,
	})
}

func (m *Module) knownFeed(url string) bool {
	for _, feed := range m.config.Feeds {
		if feed.URL == url {
			return true
		}
	}
	return false
}

func (m *Module) reply(replyTo string, reply sbx.ReplyEnvelope) {
	if replyTo == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := m.client.Publish(replyTo, 1, false, payload); err != nil {
		m.log.Warn("publish reply", zap.Error(err))
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
