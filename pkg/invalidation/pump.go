package invalidation

import (
	"context"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policystore"
)

// PumpStore subscribes to store's mutation watch stream and republishes
// every event onto bus as a KindPolicyMutated invalidation, until ctx is
// cancelled or the watch channel closes. Run it in its own goroutine.
func PumpStore(ctx context.Context, store policystore.Store, bus *Bus) error {
	ch, err := store.Watch(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			bus.Publish(Event{
				Kind:      KindPolicyMutated,
				Seq:       ev.Seq,
				PolicyHRN: ev.HRN,
			})
		}
	}
}
