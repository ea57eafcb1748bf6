//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/splice_box/internal/adapters/clock"
	"github.com/mikey-austin/splice_box/internal/adapters/idgen"
	"github.com/mikey-austin/splice_box/internal/adapters/mqtt"
	"github.com/mikey-austin/splice_box/internal/adapters/mqttclient"
	"github.com/mikey-austin/splice_box/internal/core"
	embeddedmqtt "github.com/mikey-austin/splice_box/internal/modules/embedded_mqtt"
	feedsync "github.com/mikey-austin/splice_box/internal/modules/feed_sync"
	"github.com/mikey-austin/splice_box/pkg/sbx"
)

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Integration Feed</title>
    <item>
      <title>Episode One</title>
      <guid>ep-1</guid>
      <enclosure url="%s/media/episode-one.mp4" length="16" type="video/mp4"/>
    </item>
  </channel>
</rss>`

var (
	sbBinOnce sync.Once
	sbBinPath string
	sbBinErr  error
)

type integrationOptions struct {
	allowAnonymous bool
	username       string
	password       string
}

type integrationHarness struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger
	brokerURL string
	feedNode  string
	feedURL   string
	mediaRoot string
	client    *mqtt.Client
	service   core.Service
}

func TestFeedSyncRoundTrip(t *testing.T) {
	h := setupIntegration(t)
	ctx := h.ctx

	nodes, err := h.service.ListNodes(ctx, "feed_sync", false)
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if len(nodes.Nodes) != 1 || nodes.Nodes[0].NodeID != h.feedNode {
		t.Fatalf("expected feed node %s, got %+v", h.feedNode, nodes.Nodes)
	}

	syncCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	result, err := h.service.FeedSync(syncCtx, "", "")
	if err != nil {
		t.Fatalf("feed sync: %v", err)
	}
	if result.NodeID != h.feedNode {
		t.Fatalf("expected node %s, got %s", h.feedNode, result.NodeID)
	}
	// The startup sync races this one; between them the single episode is
	// downloaded exactly once.
	if got := result.Status.Downloaded + result.Status.Skipped; got != 1 {
		t.Fatalf("expected one episode handled, got %+v", result.Status)
	}
	if result.Status.Failed != 0 {
		t.Fatalf("expected no failures, got %+v", result.Status)
	}

	dest := filepath.Join(h.mediaRoot, "events", "episode-one.mp4")
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected downloaded episode at %s: %v", dest, err)
	}

	// A second pass over the same feed skips the episode on disk.
	result, err = h.service.FeedSync(syncCtx, "", h.feedURL)
	if err != nil {
		t.Fatalf("feed sync by url: %v", err)
	}
	if result.Status.Downloaded != 0 || result.Status.Skipped != 1 {
		t.Fatalf("expected skip on resync, got %+v", result.Status)
	}
}

func TestFeedSyncRejectsUnknownCommand(t *testing.T) {
	h := setupIntegration(t)

	cmd, err := sbx.NewCommand("feed.unknown", sbx.EmptyBody{})
	if err != nil {
		t.Fatalf("build command: %v", err)
	}
	reply := publishCommand(t, h, decorateCommand(h, cmd))
	if reply.Err == nil || reply.Err.Code != "INVALID" {
		t.Fatalf("expected INVALID, got %+v", reply.Err)
	}
}

func TestFeedSyncRejectsUnconfiguredURL(t *testing.T) {
	h := setupIntegration(t)

	syncCtx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	_, err := h.service.FeedSync(syncCtx, "", "http://nowhere.invalid/feed.xml")
	if err == nil {
		t.Fatalf("expected error for unconfigured feed")
	}
	var cliErr *core.CLIError
	if !errors.As(err, &cliErr) || cliErr.Code != core.ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestEmbeddedMQTTAuth(t *testing.T) {
	h := setupIntegrationWithOptions(t, integrationOptions{
		allowAnonymous: false,
		username:       "sbuser",
		password:       "sbpass",
	})

	_, err := mqtt.NewClient(mqtt.Options{
		BrokerURL: h.brokerURL,
		ClientID:  "sb-int-unauth-" + idgen.Generator{}.NewID(),
		TopicBase: sbx.BaseTopic,
		Timeout:   500 * time.Millisecond,
	})
	if err == nil {
		t.Fatalf("expected unauthenticated connection to fail")
	}

	if _, err := h.service.ListNodes(h.ctx, "feed_sync", false); err != nil {
		t.Fatalf("authenticated list nodes: %v", err)
	}
}

func TestSbCLIIntegration(t *testing.T) {
	h := setupIntegration(t)
	sbPath := sbBinary(t)
	env := cliEnv(t)
	baseArgs := []string{
		"--broker", h.brokerURL,
		"--topic-base", sbx.BaseTopic,
		"--identity", "integration-cli",
		"--timeout", "3s",
	}

	out := runSb(t, sbPath, env, append(baseArgs, "--json", "ls", "--kind", "feed_sync")...)
	var nodes core.NodesResult
	decodeJSON(t, out, &nodes)
	if len(nodes.Nodes) != 1 || nodes.Nodes[0].NodeID != h.feedNode {
		t.Fatalf("expected feed node %s, got %+v", h.feedNode, nodes.Nodes)
	}

	out = runSb(t, sbPath, env, append(baseArgs, "--json", "--server", h.feedNode, "feeds", "sync")...)
	var syncOut core.FeedSyncResult
	decodeJSON(t, out, &syncOut)
	if got := syncOut.Status.Downloaded + syncOut.Status.Skipped; got != 1 {
		t.Fatalf("expected one episode handled, got %+v", syncOut.Status)
	}
}

func setupIntegration(t *testing.T) *integrationHarness {
	return setupIntegrationWithOptions(t, integrationOptions{allowAnonymous: true})
}

func setupIntegrationWithOptions(t *testing.T, opts integrationOptions) *integrationHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := testLogger()
	listen := freeListenAddr(t)
	brokerURL := embeddedmqtt.BrokerURL(listen)

	mqttModule, err := embeddedmqtt.NewModule(logger, embeddedmqtt.Config{
		Listen:         listen,
		AllowAnonymous: opts.allowAnonymous,
		Username:       opts.username,
		Password:       opts.password,
	})
	if err != nil {
		t.Fatalf("embedded mqtt module: %v", err)
	}
	runModule(t, ctx, "embedded_mqtt", mqttModule.Run)
	waitForBrokerReady(t, listen)

	mux := http.NewServeMux()
	feedServer := httptest.NewServer(mux)
	t.Cleanup(feedServer.Close)
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, feedTemplate, feedServer.URL)
	})
	mux.HandleFunc("/media/episode-one.mp4", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fake-episode-data"))
	})
	feedURL := feedServer.URL + "/feed.xml"

	daemonClient := waitForDaemonClient(t, brokerURL, opts.username, opts.password)
	mediaRoot := t.TempDir()
	feedNode := "sb:feeds:integration-" + idgen.Generator{}.NewID()
	feedModule, err := feedsync.NewModule(logger, daemonClient, feedsync.Config{
		NodeID:    feedNode,
		TopicBase: sbx.BaseTopic,
		MediaRoot: mediaRoot,
		Feeds:     []feedsync.Feed{{URL: feedURL, Category: "events"}},
		Refresh:   time.Hour,
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("feed sync module: %v", err)
	}
	runModule(t, ctx, "feed_sync", feedModule.Run)

	client := waitForMQTTClient(t, brokerURL, opts.username, opts.password)
	cfg := core.Config{
		Identity:  "integration",
		TopicBase: sbx.BaseTopic,
		Defaults:  core.Defaults{Feeds: feedNode},
	}
	service := core.Service{
		Broker:   client,
		Resolver: core.Resolver{Presence: client, Config: cfg},
		Clock:    clock.Clock{},
		IDGen:    idgen.Generator{},
		Config:   cfg,
	}

	waitForPresence(t, client, feedNode)
	return &integrationHarness{
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		brokerURL: brokerURL,
		feedNode:  feedNode,
		feedURL:   feedURL,
		mediaRoot: mediaRoot,
		client:    client,
		service:   service,
	}
}

func runModule(t *testing.T, ctx context.Context, name string, run func(context.Context) error) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx)
	}()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("%s module failed: %v", name, err)
		}
	default:
	}
	t.Cleanup(func() {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Fatalf("%s module failed: %v", name, err)
			}
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func waitForMQTTClient(t *testing.T, brokerURL string, username string, password string) *mqtt.Client {
	t.Helper()
	gen := idgen.Generator{}
	var lastErr error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		client, err := mqtt.NewClient(mqtt.Options{
			BrokerURL: brokerURL,
			ClientID:  "sb-int-" + gen.NewID(),
			TopicBase: sbx.BaseTopic,
			Timeout:   2 * time.Second,
			Username:  username,
			Password:  password,
		})
		if err == nil {
			return client
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("connect sb client: %v", lastErr)
	return nil
}

func waitForDaemonClient(t *testing.T, brokerURL string, username string, password string) *mqttclient.Client {
	t.Helper()
	gen := idgen.Generator{}
	var lastErr error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		client, err := mqttclient.NewClient(mqttclient.Options{
			BrokerURL: brokerURL,
			ClientID:  "sbd-int-" + gen.NewID(),
			Timeout:   2 * time.Second,
			Username:  username,
			Password:  password,
		})
		if err == nil {
			return client
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("connect daemon client: %v", lastErr)
	return nil
}

func waitForPresence(t *testing.T, client *mqtt.Client, nodeID string) {
	t.Helper()
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		presence, err := client.ListPresence(context.Background())
		if err == nil {
			for _, p := range presence {
				if p.NodeID == nodeID {
					return
				}
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for presence: %s", nodeID)
}

func freeListenAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EPERM) || strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("network listen not permitted in this environment")
		}
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	if err := listener.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	return addr
}

func waitForBrokerReady(t *testing.T, listen string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", listen, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		if errors.Is(err, syscall.EPERM) || strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("network dial not permitted in this environment")
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("broker not ready: %v", lastErr)
}

func publishCommand(t *testing.T, h *integrationHarness, cmd sbx.CommandEnvelope) sbx.ReplyEnvelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(h.ctx, 3*time.Second)
	t.Cleanup(cancel)
	reply, err := h.client.PublishCommand(ctx, h.feedNode, cmd)
	if err != nil {
		t.Fatalf("publish command: %v", err)
	}
	return reply
}

func decorateCommand(h *integrationHarness, cmd sbx.CommandEnvelope) sbx.CommandEnvelope {
	cmd.ID = idgen.Generator{}.NewID()
	cmd.TS = time.Now().Unix()
	cmd.From = "integration"
	cmd.ReplyTo = h.client.ReplyTopic()
	return cmd
}

func testLogger() *zap.Logger {
	debug := os.Getenv("SB_INTEGRATION_DEBUG")
	if strings.EqualFold(debug, "1") || strings.EqualFold(debug, "true") {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	return zap.NewNop()
}

func decodeJSON(t *testing.T, payload string, dest any) {
	t.Helper()
	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		t.Fatalf("decode json: %v\npayload: %s", err, payload)
	}
}

func runSb(t *testing.T, sbPath string, env []string, args ...string) string {
	t.Helper()
	cmd := exec.Command(sbPath, args...)
	cmd.Env = env
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("sb %s failed: %v\nstderr: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String()
}

func cliEnv(t *testing.T) []string {
	t.Helper()
	cfgDir := t.TempDir()
	env := append([]string{}, os.Environ()...)
	env = append(env, "XDG_CONFIG_HOME="+cfgDir)
	return env
}

func sbBinary(t *testing.T) string {
	t.Helper()
	sbBinOnce.Do(func() {
		dir, err := os.MkdirTemp("", "sb-cli-bin-*")
		if err != nil {
			sbBinErr = err
			return
		}
		binPath := filepath.Join(dir, "sb")
		cmd := exec.Command("go", "build", "-o", binPath, "./cmd/sb")
		cmd.Dir = repoRoot(t)
		output, err := cmd.CombinedOutput()
		if err != nil {
			sbBinErr = fmt.Errorf("build sb: %w: %s", err, strings.TrimSpace(string(output)))
			return
		}
		sbBinPath = binPath
	})
	if sbBinErr != nil {
		t.Fatalf("build sb binary: %v", sbBinErr)
	}
	return sbBinPath
}

func repoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("repo root not found from %s", dir)
		}
		dir = parent
	}
}
