package sbx

// EmptyBody is the payload for commands that take no arguments.
type EmptyBody struct{}

// TriggerReply reports whether a trigger call actually injected a clip.
type TriggerReply struct {
	Fired bool `json:"fired"`
}

// PauseReply carries the pause state after playback.pause.
type PauseReply struct {
	Paused bool `json:"paused"`
}

// ReloadReply reports the tunables in force after config.reload.
type ReloadReply struct {
	IdleToRandomS int64 `json:"idleToRandomSeconds"`
}

// MediaListBody is the payload for media.list.
type MediaListBody struct {
	Category string `json:"category,omitempty"`
}

// MediaListReply is the reply for media.list.
type MediaListReply struct {
	Root       string          `json:"root"`
	Categories []MediaCategory `json:"categories"`
}

// MediaCategory lists the files of one media category.
type MediaCategory struct {
	Name  string      `json:"name"`
	Files []MediaFile `json:"files"`
}

// MediaFile describes one media file.
type MediaFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// FeedSyncBody is the payload for feed.sync.
type FeedSyncBody struct {
	URL string `json:"url,omitempty"` // sync a single feed when set
}
