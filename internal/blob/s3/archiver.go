package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftgate/solverbot/internal/domain"
)

// archivePageSize bounds how many orders one pass pulls from the store.
const archivePageSize = 500

// archivedOrder is one JSONL line in an archive object: the order plus the
// fulfillment transaction that paid it, when one exists.
type archivedOrder struct {
	Order         domain.Order `json:"order"`
	FulfillmentTx string       `json:"fulfillment_tx,omitempty"`
	AmountPaid    string       `json:"amount_paid,omitempty"`
}

// Archiver periodically moves finished orders (settled, failed, expired) out
// of the primary store into monthly JSONL objects. An order is deleted from
// Postgres only after its batch uploaded successfully.
type Archiver struct {
	writer       *Writer
	orders       domain.OrderStore
	fulfillments domain.FulfillmentStore
	retention    time.Duration
	interval     time.Duration
	clock        domain.Clock
	logger       *slog.Logger
}

// NewArchiver wires an archiver with the given retention window and run
// interval.
func NewArchiver(writer *Writer, orders domain.OrderStore, fulfillments domain.FulfillmentStore, retention, interval time.Duration, clock domain.Clock, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:       writer,
		orders:       orders,
		fulfillments: fulfillments,
		retention:    retention,
		interval:     interval,
		clock:        clock,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// Run executes archive passes on the configured interval until ctx is
// cancelled. A failed pass is logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := a.ArchiveOnce(ctx)
			if err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.Info("archive pass complete", slog.Int("orders", n))
			}
		}
	}
}

// ArchiveOnce archives every finished order older than the retention window
// and returns how many were moved.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	cutoff := a.clock.Now().Add(-a.retention)
	total := 0

	for {
		orders, err := a.orders.ListFinishedBefore(ctx, cutoff, domain.ListOpts{Limit: archivePageSize})
		if err != nil {
			return total, fmt.Errorf("s3blob: query finished orders: %w", err)
		}
		if len(orders) == 0 {
			return total, nil
		}

		records := make([]archivedOrder, 0, len(orders))
		for _, o := range orders {
			rec := archivedOrder{Order: o}
			fr, _, err := a.fulfillments.GetByOrder(ctx, o.ID)
			switch {
			case err == nil:
				rec.FulfillmentTx = fr.TxHash
				rec.AmountPaid = fr.AmountPaid.String()
			case errors.Is(err, domain.ErrNotFound):
				// Orders that never reached fulfillment have no record.
			default:
				return total, fmt.Errorf("s3blob: fulfillment for %s: %w", o.ID, err)
			}
			records = append(records, rec)
		}

		buf, err := marshalJSONL(records)
		if err != nil {
			return total, fmt.Errorf("s3blob: marshal archive batch: %w", err)
		}

		path := a.archivePath(cutoff)
		if int64(len(buf)) >= minPartSize {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: upload archive batch: %w", err)
		}

		for _, o := range orders {
			if err := a.orders.Delete(ctx, o.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return total, fmt.Errorf("s3blob: delete archived order %s: %w", o.ID, err)
			}
		}
		total += len(orders)

		if len(orders) < archivePageSize {
			return total, nil
		}
	}
}

// archivePath builds the object key, partitioned by the cutoff's year-month
// with a timestamp suffix so repeated passes never overwrite each other:
//
//	archive/orders/2026-09/20260901T120000Z.jsonl
func (a *Archiver) archivePath(cutoff time.Time) string {
	now := a.clock.Now().UTC()
	return fmt.Sprintf("archive/orders/%s/%s.jsonl",
		cutoff.Format("2006-01"), now.Format("20060102T150405Z"))
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
