package service

import (
	"context"
	"time"

	"github.com/privacykit/shortlink/internal/app/repository"
	"go.uber.org/zap"
)

// FilterRefresher periodically rebuilds the code filter from the store so a
// replica eventually learns about codes issued by other instances.
type FilterRefresher struct {
	logger   *zap.Logger
	repo     repository.LinkRepository
	filter   *CodeFilter
	interval time.Duration
	stopChan chan struct{}
}

// NewFilterRefresher creates a refresher; interval <= 0 defaults to 5m.
func NewFilterRefresher(logger *zap.Logger, repo repository.LinkRepository, filter *CodeFilter, interval time.Duration) *FilterRefresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &FilterRefresher{
		logger:   logger,
		repo:     repo,
		filter:   filter,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic rebuild.
func (r *FilterRefresher) Start() {
	go r.run()
}

// Stop halts the periodic rebuild.
func (r *FilterRefresher) Stop() {
	close(r.stopChan)
}

func (r *FilterRefresher) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refresh()
		case <-r.stopChan:
			r.logger.Info("code filter refresher stopped")
			return
		}
	}
}

func (r *FilterRefresher) refresh() {
	ctx := context.Background()

	n, err := r.filter.Warm(ctx, r.repo)
	if err != nil {
		r.logger.Error("failed to rebuild code filter", zap.Error(err))
		return
	}

	r.logger.Debug("code filter rebuilt", zap.Int("codes", n))
}
