package core

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mikey-austin/splice_box/internal/ports"
	"github.com/mikey-austin/splice_box/pkg/sbx"
)

// Service orchestrates sb CLI use cases.
type Service struct {
	Broker   ports.Broker
	Resolver Resolver
	Clock    ports.Clock
	IDGen    ports.IDGen
	Config   Config
}

// ListNodes returns presence entries with optional filters.
func (s Service) ListNodes(ctx context.Context, kind string, onlineOnly bool) (NodesResult, error) {
	nodes, err := s.Broker.ListPresence(ctx)
	if err != nil {
		return NodesResult{}, WrapError(ExitRuntime, "list nodes", err)
	}
	if kind != "" {
		filtered := nodes[:0]
		for _, node := range nodes {
			if node.Kind == kind {
				filtered = append(filtered, node)
			}
		}
		nodes = filtered
	}
	// Online filtering relies on presence; with retained presence this is best-effort.
	if onlineOnly {
		filtered := nodes[:0]
		for _, node := range nodes {
			if node.TS > 0 {
				filtered = append(filtered, node)
			}
		}
		nodes = filtered
	}
	return NodesResult{Nodes: nodes}, nil
}

// Status returns the retained player state.
func (s Service) Status(ctx context.Context, selector string) (StatusResult, error) {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return StatusResult{}, err
	}
	state, err := s.Broker.GetPlayerState(ctx, player.NodeID)
	if err != nil {
		return StatusResult{}, WrapError(ExitRuntime, "get player state", err)
	}
	return StatusResult{Player: player, State: state}, nil
}

// WatchStatus streams state and trigger events for a player.
func (s Service) WatchStatus(ctx context.Context, selector string) (<-chan sbx.PlayerStatus, <-chan sbx.TriggerEvent, <-chan error, error) {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return nil, nil, nil, err
	}
	states, events, errs := s.Broker.WatchPlayer(ctx, player.NodeID)
	return states, events, errs, nil
}

// TriggerEvent fires the event trigger on the player node.
func (s Service) TriggerEvent(ctx context.Context, selector string) (TriggerResult, error) {
	return s.trigger(ctx, selector, "trigger.event")
}

// TriggerRandom injects a random clip on the player node.
func (s Service) TriggerRandom(ctx context.Context, selector string) (TriggerResult, error) {
	return s.trigger(ctx, selector, "trigger.random")
}

func (s Service) trigger(ctx context.Context, selector string, cmdType string) (TriggerResult, error) {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return TriggerResult{}, err
	}
	reply, err := s.publish(ctx, player.NodeID, cmdType, sbx.EmptyBody{})
	if err != nil {
		return TriggerResult{}, err
	}
	var body sbx.TriggerReply
	if err := json.Unmarshal(reply.Body, &body); err != nil {
		return TriggerResult{}, WrapError(ExitRuntime, "decode trigger reply", err)
	}
	return TriggerResult{NodeID: player.NodeID, Fired: body.Fired}, nil
}

// PlaybackStart rebuilds the queue and starts the idle loop.
func (s Service) PlaybackStart(ctx context.Context, selector string) error {
	return s.simpleCommand(ctx, selector, "playback.start")
}

// PlaybackPause toggles pause on the player.
func (s Service) PlaybackPause(ctx context.Context, selector string) (PauseResult, error) {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return PauseResult{}, err
	}
	reply, err := s.publish(ctx, player.NodeID, "playback.pause", sbx.EmptyBody{})
	if err != nil {
		return PauseResult{}, err
	}
	var body sbx.PauseReply
	if err := json.Unmarshal(reply.Body, &body); err != nil {
		return PauseResult{}, WrapError(ExitRuntime, "decode pause reply", err)
	}
	return PauseResult{NodeID: player.NodeID, Paused: body.Paused}, nil
}

// PlaybackSkip skips the currently playing item.
func (s Service) PlaybackSkip(ctx context.Context, selector string) error {
	return s.simpleCommand(ctx, selector, "playback.skip")
}

// PlaybackEnsureIdle forces the player back onto the idle loop.
func (s Service) PlaybackEnsureIdle(ctx context.Context, selector string) error {
	return s.simpleCommand(ctx, selector, "playback.ensure_idle")
}

// ConfigReload asks the player to re-read its config file.
func (s Service) ConfigReload(ctx context.Context, selector string) (ReloadResult, error) {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return ReloadResult{}, err
	}
	reply, err := s.publish(ctx, player.NodeID, "config.reload", sbx.EmptyBody{})
	if err != nil {
		return ReloadResult{}, err
	}
	var body sbx.ReloadReply
	if err := json.Unmarshal(reply.Body, &body); err != nil {
		return ReloadResult{}, WrapError(ExitRuntime, "decode reload reply", err)
	}
	return ReloadResult{NodeID: player.NodeID, IdleToRandomS: body.IdleToRandomS}, nil
}

// MediaReload rescans the media library on the player.
func (s Service) MediaReload(ctx context.Context, selector string) error {
	return s.simpleCommand(ctx, selector, "media.reload")
}

// MediaList lists library files, optionally for one category.
func (s Service) MediaList(ctx context.Context, selector string, category string) (MediaResult, error) {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return MediaResult{}, err
	}
	reply, err := s.publish(ctx, player.NodeID, "media.list", sbx.MediaListBody{Category: strings.TrimSpace(category)})
	if err != nil {
		return MediaResult{}, err
	}
	var body sbx.MediaListReply
	if err := json.Unmarshal(reply.Body, &body); err != nil {
		return MediaResult{}, WrapError(ExitRuntime, "decode media reply", err)
	}
	return MediaResult{NodeID: player.NodeID, List: body}, nil
}

// FeedSync runs a sync pass on the feed node, optionally for one feed URL.
func (s Service) FeedSync(ctx context.Context, selector string, url string) (FeedSyncResult, error) {
	node, err := s.Resolver.ResolveFeedNode(ctx, selector)
	if err != nil {
		return FeedSyncResult{}, err
	}
	reply, err := s.publish(ctx, node.NodeID, "feed.sync", sbx.FeedSyncBody{URL: strings.TrimSpace(url)})
	if err != nil {
		return FeedSyncResult{}, err
	}
	var body sbx.FeedStatus
	if err := json.Unmarshal(reply.Body, &body); err != nil {
		return FeedSyncResult{}, WrapError(ExitRuntime, "decode feed reply", err)
	}
	return FeedSyncResult{NodeID: node.NodeID, Status: body}, nil
}

func (s Service) simpleCommand(ctx context.Context, selector string, cmdType string) error {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return err
	}
	_, err = s.publish(ctx, player.NodeID, cmdType, sbx.EmptyBody{})
	return err
}

func (s Service) publish(ctx context.Context, nodeID string, cmdType string, body any) (sbx.ReplyEnvelope, error) {
	cmd, err := sbx.NewCommand(cmdType, body)
	if err != nil {
		return sbx.ReplyEnvelope{}, WrapError(ExitRuntime, "build command", err)
	}
	cmd = s.decorateCommand(cmd)
	reply, err := s.Broker.PublishCommand(ctx, nodeID, cmd)
	if err != nil {
		return sbx.ReplyEnvelope{}, WrapError(ExitRuntime, "publish command", err)
	}
	if reply.Err != nil {
		return sbx.ReplyEnvelope{}, ErrorForReplyCode(reply.Err.Code, reply.Err.Message)
	}
	return reply, nil
}

func (s Service) decorateCommand(cmd sbx.CommandEnvelope) sbx.CommandEnvelope {
	cmd.ID = s.IDGen.NewID()
	cmd.TS = s.Clock.NowUnix()
	cmd.From = s.Config.Identity
	cmd.ReplyTo = s.Broker.ReplyTopic()
	return cmd
}
