package pipeline

import (
	"context"
	"fmt"
)

// historyCleanup deletes history older than the retention window in fixed-size
// batches until a batch comes back short. Re-running it is a no-op.
func (o *Orchestrator) historyCleanup(ctx context.Context, c *cycle) error {
	c.setState(StateCleaningUp)
	cutoff := o.opts.Clock.Now().Add(-o.opts.Retention)
	batchSize := o.opts.CleanupBatchSize

	for {
		if err := ctx.Err(); err != nil {
			c.fail(CycleError{Stage: StageCleanup, Message: err.Error()})
			return fmt.Errorf("history cleanup interrupted: %w", err)
		}
		n, err := o.repo.DeleteHistoryBatchOlderThan(ctx, cutoff, batchSize)
		if err != nil {
			c.fail(CycleError{Stage: StageCleanup, Message: err.Error()})
			o.metrics.PersistenceErrors.WithLabelValues(StageCleanup).Inc()
			return fmt.Errorf("delete history batch: %w", err)
		}
		c.update(func(r *CycleResult) {
			r.DeletedCount += n
			r.Batches++
		})
		o.metrics.HistoryDeleted.Add(float64(n))
		if n < batchSize {
			return nil
		}
	}
}
