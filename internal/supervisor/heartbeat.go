package supervisor

import (
	"context"
	"time"

	"github.com/parleyvoice/parley/pkg/session"
)

// heartbeat watches one connection for prolonged silence. A healthy session
// produces near-continuous inbound traffic; when nothing arrives within
// HeartbeatTimeout the connection is presumed dead and closed, which ends the
// event loop and triggers the normal reconnect path.
func (s *Supervisor) heartbeat(gen uint64, ch session.Channel, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		stale := gen != s.gen
		silence := time.Since(s.lastHeard)
		s.mu.Unlock()

		if stale {
			return
		}
		if silence >= s.cfg.HeartbeatTimeout {
			s.log.Warn("no inbound traffic, declaring connection dead", "silence", silence)
			s.metrics.RecordHeartbeatTimeout(context.Background())
			ch.Close()
			return
		}
	}
}
