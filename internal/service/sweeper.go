package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
	"github.com/chirino/conversation-identity/internal/security"
)

// SweeperService periodically purges expired keys from key-value backends
// that only expire lazily.
type SweeperService struct {
	sweeper  registrykv.Sweeper
	interval time.Duration
	now      func() time.Time
}

// NewSweeperService returns nil when kv expires keys natively or interval is
// not positive.
func NewSweeperService(kv registrykv.KeyValueStore, interval time.Duration) *SweeperService {
	sweeper, ok := kv.(registrykv.Sweeper)
	if !ok || interval <= 0 {
		return nil
	}
	return &SweeperService{sweeper: sweeper, interval: interval, now: time.Now}
}

// Start begins the periodic sweep loop. Returns when ctx is cancelled.
func (s *SweeperService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce purges what has expired by now and returns the number of keys removed.
func (s *SweeperService) RunOnce(ctx context.Context) int {
	n, err := s.sweeper.Sweep(ctx, s.now())
	if err != nil {
		log.Error("Sweeper: sweep failed", "err", err)
		return 0
	}
	if n > 0 {
		log.Info("Sweeper: purged expired keys", "count", n)
		security.RecordSwept(n)
	}
	return n
}
