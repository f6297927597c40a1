package assistant

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultMediaFileTTL         = 24 * time.Hour
	DefaultMediaCleanupInterval = time.Hour
)

// StartMediaCleaner periodically removes downloaded media older than ttl from dir.
func (s *Service) StartMediaCleaner(ctx context.Context, dir string, ttl, interval time.Duration) {
	if dir == "" {
		return
	}
	if ttl <= 0 {
		ttl = DefaultMediaFileTTL
	}
	if interval <= 0 {
		interval = DefaultMediaCleanupInterval
	}
	go cleanupLoop(ctx, dir, ttl, interval)
}

func cleanupLoop(ctx context.Context, dir string, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := cleanupExpiredFiles(dir, time.Now().Add(-ttl))
			if err != nil {
				slog.Warn("cleanup media files", "dir", dir, "error", err)
			}
			if removed > 0 {
				slog.Debug("media files removed", "dir", dir, "count", removed)
			}
		}
	}
}

// cleanupExpiredFiles deletes regular files in dir last modified before cutoff.
func cleanupExpiredFiles(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove media file", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
