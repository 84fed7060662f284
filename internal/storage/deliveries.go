package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sevigo/testrunner/internal/core"
)

// RecordDelivery stores the raw webhook and, when job is not nil, the commit
// job created from it. Both rows are written in one transaction, so a failed
// job insert leaves no delivery behind and the redelivery is processed again.
// It reports false when the delivery ID has been seen before.
func (s *Store) RecordDelivery(ctx context.Context, delivery *core.WebhookDelivery, job *core.CommitJob) (fresh bool, err error) {
	if delivery.ReceivedAt.IsZero() {
		delivery.ReceivedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin delivery transaction: %w", err)
	}
	defer func() {
		if err != nil || !fresh {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO webhook_deliveries (delivery_id, event, payload, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (delivery_id) DO NOTHING`),
		delivery.DeliveryID, delivery.Event, string(delivery.Payload), delivery.ReceivedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook delivery %s: %w", delivery.DeliveryID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if job != nil {
		job.DeliveryID = delivery.DeliveryID
		if err = insertCommitJob(ctx, tx, job); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit webhook delivery %s: %w", delivery.DeliveryID, err)
	}
	return true, nil
}
