package worker

import (
	"context"
	"fmt"
	"time"

	"finlux/internal/amqp"
	"finlux/internal/cache"
	"finlux/internal/core"
	"finlux/internal/log"
	"finlux/internal/sheets"
)

const (
	seenCacheSize = 1024
	seenCacheTTL  = time.Hour
)

// SnapshotSource provides the full ledger for a resync.
type SnapshotSource interface {
	Load(ctx context.Context) (core.Snapshot, error)
}

// MirrorWorker applies the committed changes of one partition to a
// MirrorWriter. Events from other partitions are acknowledged and dropped, so
// a reset in one partition never clears rows of another.
type MirrorWorker struct {
	mirror    sheets.MirrorWriter
	partition core.Partition
	logger    *log.Logger
	// seen holds recently applied event ids so redeliveries are skipped.
	seen *cache.LRUCache[time.Time]
}

func NewMirrorWorker(mirror sheets.MirrorWriter, partition core.Partition, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &MirrorWorker{
		mirror:    mirror,
		partition: partition,
		logger:    logger.WithComponent(log.ComponentWorker).With("partition", partition.String()),
		seen:      cache.NewLRUCache[time.Time](seenCacheSize, seenCacheTTL),
	}
}

// Partition is the partition this worker mirrors.
func (w *MirrorWorker) Partition() core.Partition {
	return w.partition
}

// SeenCache exposes the redelivery cache for periodic cleanup.
func (w *MirrorWorker) SeenCache() *cache.LRUCache[time.Time] {
	return w.seen
}

// HandleMessage processes one change message from AMQP.
func (w *MirrorWorker) HandleMessage(ctx context.Context, msg *amqp.ChangeMessage) error {
	return w.Apply(ctx, msg.Event)
}

// Apply mirrors a single change event.
func (w *MirrorWorker) Apply(ctx context.Context, ev core.ChangeEvent) error {
	if ev.ID != "" {
		if _, ok := w.seen.Get(ev.ID); ok {
			w.logger.DebugContext(ctx, "Skipping already mirrored event", "event_id", ev.ID)
			return nil
		}
	}
	if ev.Partition() != w.partition {
		w.logger.DebugContext(ctx, "Skipping event of another partition",
			"event_id", ev.ID,
			log.FieldMode, ev.Mode,
			log.FieldUserID, ev.UserID)
		return nil
	}

	w.logger.InfoContext(ctx, "Processing change event",
		"event_id", ev.ID,
		log.FieldOperation, string(ev.Op),
		log.FieldTransactionID, ev.Transaction.ID,
		log.FieldMode, ev.Mode)

	var err error
	switch ev.Op {
	case core.OpAdd, core.OpUpdate:
		err = w.mirror.Upsert(ctx, ev.Transaction)
	case core.OpDelete:
		err = w.mirror.Remove(ctx, ev.Transaction.ID)
	case core.OpReset:
		err = w.mirror.Clear(ctx)
	default:
		w.logger.WarnContext(ctx, "Ignoring unknown change op", log.FieldOperation, string(ev.Op), "event_id", ev.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mirror %s %s: %w", ev.Op, ev.Transaction.ID, err)
	}

	if ev.ID != "" {
		w.seen.Set(ev.ID, time.Now())
	}
	return nil
}

// Resync clears the mirror and writes every transaction of the source, which
// must hold the data of the worker's partition. It recovers from events lost
// while the worker was down.
func (w *MirrorWorker) Resync(ctx context.Context, source SnapshotSource) error {
	snap, err := source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := w.mirror.Clear(ctx); err != nil {
		return fmt.Errorf("clear mirror: %w", err)
	}

	synced, failed := 0, 0
	// Oldest first so rows read chronologically.
	for i := len(snap.Transactions) - 1; i >= 0; i-- {
		tx := snap.Transactions[i]
		if err := w.mirror.Upsert(ctx, tx); err != nil {
			w.logger.ErrorContext(ctx, "Failed to mirror transaction during resync",
				log.FieldTransactionID, tx.ID, log.FieldError, err)
			failed++
			continue
		}
		synced++
	}

	w.logger.InfoContext(ctx, "Resync completed",
		"total", len(snap.Transactions),
		"synced", synced,
		"errors", failed)
	if failed > 0 {
		return fmt.Errorf("resync: %d of %d transactions failed", failed, len(snap.Transactions))
	}
	return nil
}
