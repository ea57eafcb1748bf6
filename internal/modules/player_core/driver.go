package playercore

// Driver commands the external player engine. Implementations are expected
// to be fast local IPC; every call may individually fail and callers treat
// failures as recoverable.
type Driver interface {
	// LoadQueue replaces the engine queue with paths. When the first entry
	// is the item the engine is already playing, playback continues into
	// the new tail without restarting it.
	LoadQueue(paths []string) error
	// PlayIndex starts playback of the queue entry at index from the top.
	PlayIndex(index int) error
	SetPause(paused bool) error
	// SetLoop enables or disables looping over the whole queue.
	SetLoop(loop bool) error
	SkipNext() error
	// CurrentPath reports the item the engine is playing, "" when idle.
	CurrentPath() (string, error)
	Close() error
}

// PathEvent reports a change of the actively playing item. An empty path
// means the engine ran out of content.
type PathEvent struct {
	Path string
}

// Notifier is an optional Driver capability: engines that can push
// now-playing reports expose an event channel, the rest are polled.
type Notifier interface {
	Events() <-chan PathEvent
}

// Clock supplies unix time to the orchestrator; swapped out in tests.
type Clock interface {
	NowUnix() int64
}
