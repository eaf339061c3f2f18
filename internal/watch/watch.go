package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/forumtap/pkg/mirror"
)

// PollForArticle polls for the record mirrored for a server article id.
// Returns the record (attachment payloads included) or an error if timeout
// occurs. Polls every 200ms for the specified timeout duration.
func PollForArticle(ctx context.Context, client *mirror.Client, articleID int64, timeout time.Duration) (*mirror.Record, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for article %d after %v", articleID, timeout)

		case <-ticker.C:
			recordID, err := client.RecordIDForArticle(ctx, articleID)
			if err != nil {
				if mirror.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query article index: %w", err)
			}

			r, err := client.GetRecord(ctx, recordID)
			if err != nil {
				if mirror.IsNotFound(err) {
					// Replaced between the two reads
					continue
				}
				return nil, fmt.Errorf("failed to read record: %w", err)
			}
			return r, nil
		}
	}
}
