package triggers

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPumpFiresOnThresholdCross(t *testing.T) {
	fired := make(chan string, 8)
	d := New(Options{
		OnTrigger: func(source string) { fired <- source },
		Logger:    zap.NewNop(),
	})

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- d.pump(ctx, conn, SourceArtNet, 128, func(b []byte) (byte, bool) {
			return decodeArtDMX(b, 0, 1)
		})
	}()

	client, err := net.Dial("udp", conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	frames := [][]byte{
		buildArtDMX(0, []byte{100}), // below threshold
		buildArtDMX(0, []byte{200}), // fires
		buildArtDMX(0, []byte{255}), // held high, no re-fire
		buildArtDMX(1, []byte{255}), // foreign universe, dropped
		buildArtDMX(0, []byte{10}),  // re-arms
		buildArtDMX(0, []byte{128}), // fires again
	}
	for _, frame := range frames {
		if _, err := client.Write(frame); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	for i := 0; i < 2; i++ {
		select {
		case source := <-fired:
			if source != SourceArtNet {
				t.Fatalf("source = %q", source)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing fire %d", i)
		}
	}
	select {
	case <-fired:
		t.Fatalf("unexpected extra fire")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pump: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("pump did not stop after cancel")
	}
}

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	d := New(Options{
		Sources: []string{"artnet", "bogus"},
		ArtNet:  ArtNetOptions{ListenHost: "127.0.0.1", Port: 0, Threshold: 128, Channel: 1},
		Logger:  zap.NewNop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestFireRecoversHandlerPanic(t *testing.T) {
	d := New(Options{
		OnTrigger: func(string) { panic("boom") },
		Logger:    zap.NewNop(),
	})
	d.fire(SourceGPIO) // must not propagate
}
