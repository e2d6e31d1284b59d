package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// gcDiscardRatio is the reclaim threshold recommended by the Badger authors.
const gcDiscardRatio = 0.5

// BadgerGCWorker runs value log garbage collection, which Badger does not do
// on its own. One call cleans at most one log file, so a successful pass is
// immediately followed by another until there is nothing left to rewrite.
type BadgerGCWorker struct {
	log      *slog.Logger
	db       *badger.DB
	interval time.Duration
}

func NewBadgerGCWorker(log *slog.Logger, db *badger.DB, interval time.Duration) *BadgerGCWorker {
	return &BadgerGCWorker{log: log, db: db, interval: interval}
}

func (w *BadgerGCWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping value log GC")
			return nil
		case <-ticker.C:
			for {
				err := w.db.RunValueLogGC(gcDiscardRatio)
				if err == badger.ErrNoRewrite {
					break
				}
				if err != nil {
					w.log.Warn("Value log GC failed", "err", err)
					break
				}
				w.log.Debug("Value log file reclaimed")
			}
		}
	}
}
