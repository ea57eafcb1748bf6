package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mikey-austin/splice_box/internal/ports"
	"github.com/mikey-austin/splice_box/pkg/sbx"
)

// Resolver resolves selectors to node presence.
type Resolver struct {
	Presence ports.Broker
	Config   Config
}

// ResolvePlayer resolves a player selector using config defaults.
func (r Resolver) ResolvePlayer(ctx context.Context, selector string) (sbx.Presence, error) {
	return r.resolveByKind(ctx, selector, "player", r.Config.Defaults.Player)
}

// ResolveFeedNode resolves a feed_sync selector using config defaults.
func (r Resolver) ResolveFeedNode(ctx context.Context, selector string) (sbx.Presence, error) {
	return r.resolveByKind(ctx, selector, "feed_sync", r.Config.Defaults.Feeds)
}

func (r Resolver) resolveByKind(ctx context.Context, selector string, kind string, def string) (sbx.Presence, error) {
	if selector == "" {
		selector = def
	}

	presence, err := r.Presence.ListPresence(ctx)
	if err != nil {
		return sbx.Presence{}, WrapError(ExitRuntime, "list presence", err)
	}

	filtered := filterPresenceByKind(presence, kind)
	if selector == "" {
		if len(filtered) == 1 {
			return filtered[0], nil
		}
		if len(filtered) == 0 {
			return sbx.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("no %s nodes online", kind)}
		}
		return sbx.Presence{}, &CLIError{Code: ExitUsage, Msg: "selector required (--server)"}
	}
	return resolveSelector(selector, filtered, r.Config.Aliases)
}

func filterPresenceByKind(presence []sbx.Presence, kind string) []sbx.Presence {
	if kind == "" {
		return presence
	}
	out := make([]sbx.Presence, 0, len(presence))
	for _, p := range presence {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func resolveSelector(selector string, presence []sbx.Presence, aliases map[string]string) (sbx.Presence, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return sbx.Presence{}, &CLIError{Code: ExitUsage, Msg: "selector required"}
	}

	if strings.HasPrefix(selector, "sb:") {
		return resolveExact(selector, presence)
	}

	if alias, ok := aliases[selector]; ok {
		if strings.HasPrefix(alias, "sb:") {
			return resolveExact(alias, presence)
		}
		selector = alias
	}

	matches := make([]sbx.Presence, 0)
	for _, p := range presence {
		if strings.EqualFold(p.Name, selector) || strings.EqualFold(p.NodeID, selector) {
			matches = append(matches, p)
		}
	}

	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) == 0 {
		return sbx.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("no match for %q", selector)}
	}
	return sbx.Presence{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("ambiguous selector %q: %s", selector, suggestionList(matches))}
}

func resolveExact(nodeID string, presence []sbx.Presence) (sbx.Presence, error) {
	for _, p := range presence {
		if p.NodeID == nodeID {
			return p, nil
		}
	}
	return sbx.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("node not found: %s", nodeID)}
}

func suggestionList(matches []sbx.Presence) string {
	names := make([]string, 0, len(matches))
	for _, p := range matches {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.NodeID))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
