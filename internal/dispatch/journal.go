package dispatch

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// journalTTL keeps dedup entries long enough to cover any restart inside a
// grace or snooze window, then lets Badger expire them.
const journalTTL = 48 * time.Hour

// Journaled wraps a Dispatcher with a Badger-backed dedup journal. A
// notification whose Key was already dispatched is dropped, so a process
// restart inside the grace window does not re-notify the user for the same
// occurrence.
type Journaled struct {
	next   Dispatcher
	db     *badger.DB
	logger *zap.Logger
}

func NewJournaled(next Dispatcher, db *badger.DB, logger *zap.Logger) *Journaled {
	return &Journaled{next: next, db: db, logger: logger}
}

func (j *Journaled) NativeTimers() bool { return j.next.NativeTimers() }

func (j *Journaled) Dispatch(ctx context.Context, n Notification) error {
	if n.Key == "" {
		return j.next.Dispatch(ctx, n)
	}

	seen, err := j.markDispatched(n.Key)
	if err != nil {
		// Journal trouble must not block the reminder itself.
		j.logger.Warn("Dispatch journal unavailable", zap.Error(err))
		return j.next.Dispatch(ctx, n)
	}
	if seen {
		j.logger.Debug("Suppressing duplicate dispatch", zap.String("key", n.Key))
		return nil
	}
	return j.next.Dispatch(ctx, n)
}

func (j *Journaled) DispatchAt(ctx context.Context, at time.Time, n Notification) error {
	// Deferred sends pass through; dedup happens at delivery time.
	return j.next.DispatchAt(ctx, at, n)
}

// markDispatched records the key and reports whether it was already present.
func (j *Journaled) markDispatched(key string) (bool, error) {
	seen := false
	err := j.db.Update(func(txn *badger.Txn) error {
		k := []byte("dispatch/" + key)
		if _, err := txn.Get(k); err == nil {
			seen = true
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		entry := badger.NewEntry(k, []byte{1}).WithTTL(journalTTL)
		return txn.SetEntry(entry)
	})
	return seen, err
}
