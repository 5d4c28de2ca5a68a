package storage

import (
	"context"
	"errors"

	"github.com/johnwmail/npaste/models"
)

// consume runs the fetch-and-consume algorithm on top of an adapter's
// compare-and-swap primitives. A lost swap reloads the record and decides
// again, so every unit of view budget is handed out to exactly one caller.
// A swap is only lost when another caller's swap won, so the loop runs until
// it succeeds or ctx ends.
func consume(ctx context.Context, ops recordOps, id string, nowMs int64) (*models.Paste, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		paste, err := ops.load(ctx, id)
		if err != nil {
			return nil, err
		}

		action, out := paste.Consume(nowMs)
		switch action {
		case models.ActionNotFound:
			// Lazy expiry. The backend may already have swept it.
			if err := ops.remove(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			return nil, ErrNotFound
		case models.ActionReturn:
			return out, nil
		case models.ActionBurn:
			err = ops.removeIf(ctx, id, *paste.RemainingViews)
		case models.ActionDecrement:
			err = ops.decrementIf(ctx, id, *paste.RemainingViews)
		}

		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, errConflict), errors.Is(err, ErrNotFound):
			continue
		default:
			return nil, err
		}
	}
}
