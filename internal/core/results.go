package core

import "github.com/mikey-austin/splice_box/pkg/sbx"

// NodesResult holds a list of presence records.
type NodesResult struct {
	Nodes []sbx.Presence
}

// StatusResult holds player presence and state.
type StatusResult struct {
	Player sbx.Presence
	State  sbx.PlayerStatus
}

// TriggerResult reports whether a trigger fired or was suppressed.
type TriggerResult struct {
	NodeID string
	Fired  bool
}

// PauseResult reports the pause state after a toggle.
type PauseResult struct {
	NodeID string
	Paused bool
}

// ReloadResult reports the active idle threshold after a config reload.
type ReloadResult struct {
	NodeID        string
	IdleToRandomS int64
}

// MediaResult holds a media listing.
type MediaResult struct {
	NodeID string
	List   sbx.MediaListReply
}

// FeedSyncResult holds the feed status after a sync.
type FeedSyncResult struct {
	NodeID string
	Status sbx.FeedStatus
}

// BtDevice is one discovered bluetooth device.
type BtDevice struct {
	MAC  string
	Name string
}

// BtScanResult holds discovered bluetooth devices.
type BtScanResult struct {
	Devices []BtDevice
}

// BtConnectResult reports a bluetooth connection attempt.
type BtConnectResult struct {
	MAC       string
	Connected bool
}
