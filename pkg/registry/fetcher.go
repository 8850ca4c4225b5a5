package registry

import (
	"context"
)

// UnitFetcher composes a RetryPolicy around Client.GetUnit. It is the
// fetch unit handed to a pipeline worker: one call per identifier, at
// most MaxAttempts remote calls behind it.
type UnitFetcher struct {
	Client *Client
	Policy RetryPolicy
}

// Fetch fetches one unit record, retrying classified transient faults.
func (f *UnitFetcher) Fetch(ctx context.Context, unitID string) (Record, error) {
	var rec Record

	err := f.Policy.Do(ctx, opGetUnit, func() error {
		r, err := f.Client.GetUnit(ctx, unitID)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}
