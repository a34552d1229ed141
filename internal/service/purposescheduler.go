package service

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/purpose"
)

// PurposeScheduler periodically re-runs purpose discovery over the most
// recent arrays, keeping the discoverer's surviving purpose set fresh
// without requiring a caller to trigger it via the admin API.
type PurposeScheduler struct {
	discoverer *purpose.Discoverer
	interval   time.Duration
	batch      int
}

// NewPurposeScheduler creates a scheduler that discovers purposes over the
// batchSize most recent arrays every interval.
func NewPurposeScheduler(discoverer *purpose.Discoverer, interval time.Duration, batchSize int) *PurposeScheduler {
	return &PurposeScheduler{discoverer: discoverer, interval: interval, batch: batchSize}
}

// Start begins the periodic discovery loop. Returns when ctx is cancelled.
func (s *PurposeScheduler) Start(ctx context.Context) {
	if s.discoverer == nil {
		log.Info("Purpose scheduler disabled (no discoverer)")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *PurposeScheduler) runOnce(ctx context.Context) {
	purposes, err := s.discoverer.Discover(ctx, purpose.Window{Limit: s.batch}, purpose.Config{})
	if err != nil {
		var insufficient *model.InsufficientDataError
		if errors.As(err, &insufficient) {
			log.Debug("Purpose scheduler: window too small", "have", insufficient.Have, "want", insufficient.Want)
			return
		}
		log.Error("Purpose scheduler: discovery run failed", "err", err)
		return
	}
	log.Info("Purpose scheduler: discovery run complete", "purposes", len(purposes))
}
