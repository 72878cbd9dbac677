package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// CleanupService revokes bearer tokens that have been idle for too long.
// It runs as a background goroutine and periodically sweeps the token table.
type CleanupService struct {
	users    *UserService
	interval time.Duration
	timeout  time.Duration
}

// NewCleanupService creates a new cleanup service.
// - interval: how often to sweep (e.g., 1 minute)
// - timeout: how long a token may go unused before it is revoked
func NewCleanupService(users *UserService, interval, timeout time.Duration) *CleanupService {
	return &CleanupService{
		users:    users,
		interval: interval,
		timeout:  timeout,
	}
}

// Run sweeps every interval until ctx is done.
func (s *CleanupService) Run(ctx context.Context) error {
	log.Info().Dur("interval", s.interval).Dur("timeout", s.timeout).Msg("[Cleanup] Service started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(time.Now().UTC())
		case <-ctx.Done():
			log.Info().Msg("[Cleanup] Service stopped")
			return nil
		}
	}
}

// Sweep revokes every token unused since now minus the timeout.
func (s *CleanupService) Sweep(now time.Time) int {
	n := s.users.RevokeIdle(now.Add(-s.timeout))
	if n > 0 {
		log.Info().Int("count", n).Msg("[Cleanup] Revoked idle tokens")
	}
	return n
}
