package core

import (
	"context"
	"testing"

	"github.com/mikey-austin/splice_box/pkg/sbx"
)

type fakeBroker struct {
	presence []sbx.Presence
}

func (f fakeBroker) ReplyTopic() string { return "" }
func (f fakeBroker) PublishCommand(ctx context.Context, nodeID string, cmd sbx.CommandEnvelope) (sbx.ReplyEnvelope, error) {
	return sbx.ReplyEnvelope{}, nil
}
func (f fakeBroker) ListPresence(ctx context.Context) ([]sbx.Presence, error) { return f.presence, nil }
func (f fakeBroker) GetPlayerState(ctx context.Context, nodeID string) (sbx.PlayerStatus, error) {
	return sbx.PlayerStatus{}, nil
}
func (f fakeBroker) WatchPlayer(ctx context.Context, nodeID string) (<-chan sbx.PlayerStatus, <-chan sbx.TriggerEvent, <-chan error) {
	stateCh := make(chan sbx.PlayerStatus)
	eventCh := make(chan sbx.TriggerEvent)
	errCh := make(chan error)
	close(stateCh)
	close(eventCh)
	close(errCh)
	return stateCh, eventCh, errCh
}

func TestResolverAlias(t *testing.T) {
	presence := []sbx.Presence{{NodeID: "sb:player:one", Kind: "player", Name: "Foyer"}}
	resolver := Resolver{
		Presence: fakeBroker{presence: presence},
		Config: Config{
			Aliases: map[string]string{"foyer": "sb:player:one"},
		},
	}
	got, err := resolver.ResolvePlayer(context.Background(), "foyer")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.NodeID != "sb:player:one" {
		t.Fatalf("expected alias resolution")
	}
}

func TestResolverSinglePlayerDefault(t *testing.T) {
	presence := []sbx.Presence{
		{NodeID: "sb:player:one", Kind: "player", Name: "Foyer"},
		{NodeID: "sb:feeds:one", Kind: "feed_sync", Name: "Feeds"},
	}
	resolver := Resolver{Presence: fakeBroker{presence: presence}}
	got, err := resolver.ResolvePlayer(context.Background(), "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.NodeID != "sb:player:one" {
		t.Fatalf("expected the single player node, got %+v", got)
	}
}

func TestResolverNoNodes(t *testing.T) {
	resolver := Resolver{Presence: fakeBroker{}}
	_, err := resolver.ResolvePlayer(context.Background(), "")
	if err == nil {
		t.Fatalf("expected error with no players online")
	}
	if ExitCode(err) != ExitNotFound {
		t.Fatalf("exit code = %d, want %d", ExitCode(err), ExitNotFound)
	}
}

func TestResolverAmbiguous(t *testing.T) {
	presence := []sbx.Presence{
		{NodeID: "sb:player:one", Kind: "player", Name: "Foyer"},
		{NodeID: "sb:player:two", Kind: "player", Name: "Foyer"},
	}
	resolver := Resolver{Presence: fakeBroker{presence: presence}}
	_, err := resolver.ResolvePlayer(context.Background(), "Foyer")
	if err == nil {
		t.Fatalf("expected ambiguous error")
	}
}

func TestResolverExactNodeID(t *testing.T) {
	presence := []sbx.Presence{
		{NodeID: "sb:player:one", Kind: "player", Name: "Foyer"},
		{NodeID: "sb:player:two", Kind: "player", Name: "Hall"},
	}
	resolver := Resolver{Presence: fakeBroker{presence: presence}}
	got, err := resolver.ResolvePlayer(context.Background(), "sb:player:two")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Name != "Hall" {
		t.Fatalf("expected exact node id match, got %+v", got)
	}
}
