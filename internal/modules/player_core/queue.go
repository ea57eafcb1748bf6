package playercore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// QueueStore persists the current playback queue as an M3U playlist, one
// absolute path per line. The file is the durable record of what should be
// playing; it is rewritten on every queue change and read back on restart.
type QueueStore struct {
	Path string
}

// Read returns the stored queue. A missing file is an empty queue.
func (s QueueStore) Read() ([]string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	return paths, nil
}

// Write atomically replaces the stored queue.
func (s QueueStore) Write(paths []string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create playlist dir: %w", err)
	}
	var sb strings.Builder
	for _, p := range paths {
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
	tmp := fmt.Sprintf("%s.tmp.%d", s.Path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("write playlist: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace playlist: %w", err)
	}
	return nil
}
