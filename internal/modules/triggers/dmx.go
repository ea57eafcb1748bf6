package triggers

// levelTrigger converts a stream of DMX levels into edge firings: one fire
// when the value reaches the threshold, re-armed once it drops below. A
// console holding the channel high does not re-fire every frame.
type levelTrigger struct {
	threshold byte
	high      bool
}

func (l *levelTrigger) update(value byte) bool {
	if value >= l.threshold {
		if l.high {
			return false
		}
		l.high = true
		return true
	}
	l.high = false
	return false
}

// clampChannel maps a 1-based config channel into the valid DMX range.
func clampChannel(ch int) int {
	if ch < 1 {
		return 1
	}
	if ch > 512 {
		return 512
	}
	return ch
}

func clampLevel(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
