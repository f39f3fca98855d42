package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"otp-service/internal/repository"
)

// reaperDeleteConcurrency bounds how many deletes a sweep runs in parallel.
const reaperDeleteConcurrency = 8

// SweepResult reports a cleanup pass. Deleted and Failed together cover every
// expired record the scan found; zero found is a successful no-op.
type SweepResult struct {
	Deleted int `json:"deletedCount"`
	Failed  int `json:"failedCount,omitempty"`
}

// Reaper sweeps expired OTP records independently of verification traffic.
// It may race the verifier on the same record; delete is idempotent so a
// double delete is harmless, and anything that fails this pass is retried on
// the next scheduled run.
type Reaper struct {
	store  repository.OTPStore
	logger *zap.Logger
}

func NewReaper(store repository.OTPStore, logger *zap.Logger) *Reaper {
	return &Reaper{
		store:  store,
		logger: logger,
	}
}

// Sweep scans for records whose expiry has passed and deletes them
// best-effort with bounded concurrency. A scan failure or any delete failure
// surfaces ErrStoreUnavailable; the counts are still reported.
func (r *Reaper) Sweep(ctx context.Context) (*SweepResult, error) {
	sweepID := uuid.New().String()
	start := time.Now()

	expired, err := r.store.ScanExpired(ctx, start.Unix())
	if err != nil {
		r.logger.Error("Expired OTP scan failed",
			zap.String("sweep_id", sweepID),
			zap.Error(err))
		return nil, ErrStoreUnavailable
	}

	if len(expired) == 0 {
		r.logger.Debug("No expired OTP records found",
			zap.String("sweep_id", sweepID))
		return &SweepResult{}, nil
	}

	var deleted, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(reaperDeleteConcurrency)
	for _, identifier := range expired {
		identifier := identifier
		g.Go(func() error {
			if err := r.store.Delete(ctx, identifier); err != nil {
				failed.Add(1)
				r.logger.Error("Failed to delete expired OTP record",
					zap.String("sweep_id", sweepID),
					zap.Error(err))
				return nil
			}
			deleted.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := &SweepResult{
		Deleted: int(deleted.Load()),
		Failed:  int(failed.Load()),
	}

	r.logger.Info("Expired OTP sweep completed",
		zap.String("sweep_id", sweepID),
		zap.Int("deleted", result.Deleted),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)))

	if result.Failed > 0 {
		return result, ErrStoreUnavailable
	}
	return result, nil
}

// Run executes Sweep on the given interval until the context is cancelled.
// Sweep errors are logged and swallowed: the next tick retries, since cleanup
// is idempotent and eventually consistent.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	r.logger.Info("Reaper started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("Scheduled sweep reported failures", zap.Error(err))
			}
		}
	}
}
