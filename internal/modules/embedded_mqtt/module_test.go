package embeddedmqtt

import (
	"testing"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"
)

func TestNewServerAllowAnonymous(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{AllowAnonymous: true})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	if server == nil {
		t.Fatalf("expected server")
	}
}

func TestNewServerRequiresAuthConfig(t *testing.T) {
	_, err := newServer(zap.NewNop(), Config{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewServerSingleUser(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{Username: "sb", Password: "secret"})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	if server == nil {
		t.Fatalf("expected server")
	}
}

func TestInlinePublishSubscribe(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{AllowAnonymous: true})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}

	received := make(chan packets.Packet, 1)
	handler := func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		received <- pk
	}
	if err := server.Subscribe("sb/v1/node/test/state", 1, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := server.Publish("sb/v1/node/test/state", []byte(`{"mode":"idle"}`), false, 0); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case pk := <-received:
		if string(pk.Payload) != `{"mode":"idle"}` {
			t.Fatalf("unexpected payload %q", pk.Payload)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}
}

func TestBrokerURL(t *testing.T) {
	cases := []struct {
		listen string
		want   string
	}{
		{"127.0.0.1:1883", "tcp://127.0.0.1:1883"},
		{":1883", "tcp://127.0.0.1:1883"},
		{"0.0.0.0:1883", "tcp://127.0.0.1:1883"},
		{"broker.local:1883", "tcp://broker.local:1883"},
	}
	for _, c := range cases {
		if got := BrokerURL(c.listen); got != c.want {
			t.Fatalf("BrokerURL(%q) = %q, want %q", c.listen, got, c.want)
		}
	}
}

func TestWaitReadyBadAddress(t *testing.T) {
	if err := WaitReady("no-port", 10*time.Millisecond); err == nil {
		t.Fatal("expected error for bad address")
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	// Nothing listens on the reserved port 1.
	if err := WaitReady("127.0.0.1:1", 50*time.Millisecond); err == nil {
		t.Fatal("expected timeout")
	}
}
