package controller

import (
	"context"
	"log"
	"time"
)

// RunHeartbeat fetches path every interval while the loaded page is path,
// logging each result. It blocks until ctx is done and returns immediately
// when the page is elsewhere or interval is not positive.
func (c *Controller) RunHeartbeat(ctx context.Context, interval time.Duration, path string) {
	if interval <= 0 || c.page.Path() != path {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := c.api.Ping(ctx, path)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Auto-refresh error: %v", err)
				continue
			}
			log.Printf("Dashboard auto-refreshed (HTTP %d)", status)
		}
	}
}
