package cache

import (
	"context"
	"time"

	"github.com/golang/glog"
)

const reportInterval = 10 * time.Minute

// RunEvictionReporter logs eviction counts every 10 minutes until ctx is
// done (spec.md §4.3). Intended to be launched as a daemon goroutine, the
// way the teacher's hk (housekeeping) registers periodic callbacks.
func RunEvictionReporter(ctx context.Context, rev *RevocationCache, bl *BlacklistCache) {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	var lastRev, lastBl int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			curRev, curBl := rev.EvictionCount(), bl.EvictionCount()
			glog.Infof("cache: evictions in last %s: revocation=%d blacklist=%d",
				reportInterval, curRev-lastRev, curBl-lastBl)
			lastRev, lastBl = curRev, curBl
		}
	}
}
