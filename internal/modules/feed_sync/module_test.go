package feedsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/splice_box/pkg/sbx"
)

type publishRecord struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeMQTTClient struct {
	mu       sync.Mutex
	messages []publishRecord
}

func (f *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, publishRecord{topic: topic, retained: retained, payload: payload})
	return nil
}

func (f *fakeMQTTClient) Subscribe(topic string, qos byte, handler paho.MessageHandler) error {
	return nil
}

func (f *fakeMQTTClient) Unsubscribe(topic string) error { return nil }

func (f *fakeMQTTClient) published(topic string) []publishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishRecord
	for _, record := range f.messages {
		if record.topic == topic {
			out = append(out, record)
		}
	}
	return out
}

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/feed.rss", func(w http.ResponseWriter, r *http.Request) {
		rss := fmt.Sprintf(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>Clips</title>
<item><title>One</title><enclosure url="%s/media/clip-one.mp4" length="4" type="video/mp4"/></item>
<item><title>Two</title><enclosure url="%s/media/clip-two.mp4" length="4" type="video/mp4"/></item>
<item><title>Broken</title><enclosure url="%s/media/missing.mp4" length="4" type="video/mp4"/></item>
</channel></rss>`, server.URL, server.URL, server.URL)
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rss)
	})
	mux.HandleFunc("/media/clip-one.mp4", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "one!")
	})
	mux.HandleFunc("/media/clip-two.mp4", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "two!")
	})
	mux.HandleFunc("/media/missing.mp4", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestModule(t *testing.T, server *httptest.Server) (*Module, *fakeMQTTClient, string) {
	t.Helper()
	root := t.TempDir()
	client := &fakeMQTTClient{}
	module, err := NewModule(zap.NewNop(), client, Config{
		NodeID:    "sb:feeds:test",
		MediaRoot: root,
		Feeds:     []Feed{{URL: server.URL + "/feed.rss", Category: "random"}},
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	return module, client, root
}

func TestSyncDownloadsEnclosures(t *testing.T) {
	server := newFeedServer(t)
	module, client, root := newTestModule(t, server)

	status := module.SyncAll(context.Background())
	if status.Downloaded != 2 || status.Skipped != 0 || status.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", status)
	}

	data, err := os.ReadFile(filepath.Join(root, "random", "clip-one.mp4"))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "one!" {
		t.Fatalf("unexpected content %q", data)
	}

	states := client.published(sbx.TopicState(sbx.BaseTopic, "sb:feeds:test"))
	if len(states) != 1 || !states[0].retained {
		t.Fatalf("expected one retained state publish, got %+v", states)
	}
	var published sbx.FeedStatus
	if err := json.Unmarshal(states[0].payload, &published); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if published.Downloaded != 2 {
		t.Fatalf("state downloaded = %d, want 2", published.Downloaded)
	}
}

func TestSyncSkipsExistingFiles(t *testing.T) {
	server := newFeedServer(t)
	module, _, _ := newTestModule(t, server)

	first := module.SyncAll(context.Background())
	if first.Downloaded != 2 {
		t.Fatalf("first pass downloaded = %d, want 2", first.Downloaded)
	}

	second := module.SyncAll(context.Background())
	if second.Downloaded != 0 || second.Skipped != 2 {
		t.Fatalf("second pass counts: %+v", second)
	}
}

func TestSyncUnknownCategoryFails(t *testing.T) {
	server := newFeedServer(t)
	root := t.TempDir()
	module, err := NewModule(zap.NewNop(), &fakeMQTTClient{}, Config{
		NodeID:    "sb:feeds:test",
		MediaRoot: root,
		Feeds:     []Feed{{URL: server.URL + "/feed.rss", Category: "archive"}},
	})
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}

	status := module.SyncAll(context.Background())
	if status.Failed != 1 || status.Downloaded != 0 {
		t.Fatalf("unexpected counts: %+v", status)
	}
}

func TestSyncNoHalfFilesLeftBehind(t *testing.T) {
	server := newFeedServer(t)
	module, _, root := newTestModule(t, server)

	module.SyncAll(context.Background())

	entries, err := os.ReadDir(filepath.Join(root, "random"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if name != "clip-one.mp4" && name != "clip-two.mp4" {
			t.Fatalf("unexpected leftover %q", name)
		}
	}
}

func TestEnclosureName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://example.org/media/a.mp4", "a.mp4"},
		{"https://example.org/media/a.mp4?token=abc", "a.mp4"},
		{"https://example.org/", ""},
		{"https://example.org/media/.hidden", "hidden"},
		{"https://example.org/media/..", ""},
	}
	for _, c := range cases {
		if got := enclosureName(c.in); got != c.want {
			t.Fatalf("enclosureName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFeedSyncCommand(t *testing.T) {
	server := newFeedServer(t)
	module, client, _ := newTestModule(t, server)

	body, _ := json.Marshal(sbx.FeedSyncBody{})
	payload, _ := json.Marshal(sbx.CommandEnvelope{
		ID:      "cmd-1",
		Type:    "feed.sync",
		TS:      1,
		From:    "tester",
		ReplyTo: "sb/v1/reply/tester",
		Body:    body,
	})
	module.handleMessage(fakeMessage{topic: module.cmdTopic, payload: payload})

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		records := client.published("sb/v1/reply/tester")
		if len(records) > 0 {
			var reply sbx.ReplyEnvelope
			if err := json.Unmarshal(records[0].payload, &reply); err != nil {
				t.Fatalf("decode reply: %v", err)
			}
			if !reply.OK {
				t.Fatalf("expected ok reply, got %+v", reply.Err)
			}
			var status sbx.FeedStatus
			if err := json.Unmarshal(reply.Body, &status); err != nil {
				t.Fatalf("decode status: %v", err)
			}
			if status.Downloaded != 2 {
				t.Fatalf("downloaded = %d, want 2", status.Downloaded)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for reply")
		case <-tick.C:
		}
	}
}

func TestFeedSyncUnknownURL(t *testing.T) {
	server := newFeedServer(t)
	module, client, _ := newTestModule(t, server)

	body, _ := json.Marshal(sbx.FeedSyncBody{URL: "https://example.org/other.rss"})
	payload, _ := json.Marshal(sbx.CommandEnvelope{
		ID:      "cmd-2",
		Type:    "feed.sync",
		TS:      1,
		From:    "tester",
		ReplyTo: "sb/v1/reply/tester",
		Body:    body,
	})
	module.handleMessage(fakeMessage{topic: module.cmdTopic, payload: payload})

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		records := client.published("sb/v1/reply/tester")
		if len(records) > 0 {
			var reply sbx.ReplyEnvelope
			if err := json.Unmarshal(records[0].payload, &reply); err != nil {
				t.Fatalf("decode reply: %v", err)
			}
			if reply.OK || reply.Err == nil || reply.Err.Code != "INVALID" {
				t.Fatalf("expected INVALID reply, got %+v", reply)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for reply")
		case <-tick.C:
		}
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
