package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Scanner walks reference keys and removes the ones whose message has expired.
type Scanner struct {
	client    *Client
	scanCount int64
	logger    *slog.Logger
}

// NewScanner creates a new Redis scanner.
func NewScanner(client *Client, scanCount int64, logger *slog.Logger) *Scanner {
	return &Scanner{
		client:    client,
		scanCount: scanCount,
		logger:    logger,
	}
}

// PurgeOrphanReferences deletes references pointing at messages that no longer exist.
// It returns the number of references removed.
func (s *Scanner) PurgeOrphanReferences(ctx context.Context) (int, error) {
	rdb := s.client.Native()
	removed := 0
	var cursor uint64

	for {
		keys, nextCursor, err := rdb.Scan(ctx, cursor, ReferencePattern, s.scanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("scan redis keys: %w", err)
		}

		for _, key := range keys {
			messageID, err := rdb.HGet(ctx, key, fieldMessageID).Result()
			if err != nil {
				s.logger.Warn("failed to read reference", "key", key, "error", err)
				continue
			}

			n, err := rdb.Exists(ctx, messageKey(messageID)).Result()
			if err != nil {
				s.logger.Warn("failed to check message", "message_id", messageID, "error", err)
				continue
			}
			if n > 0 {
				continue
			}

			ref := strings.TrimPrefix(key, strings.TrimSuffix(ReferencePattern, "*"))
			if err := s.client.Del(ctx, key); err != nil {
				s.logger.Warn("failed to delete reference", "reference", ref, "error", err)
				continue
			}
			removed++
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	s.logger.Debug("reference purge completed", "removed", removed)
	return removed, nil
}
