package store

import "context"

// UpdateFn computes the next value of a node from its current value.
// It must be pure: Transact re-invokes it on every conflict with the
// freshly read value. Returning nil deletes the node, which is how the
// no-tombstone invariant for emptied reaction sets is expressed.
type UpdateFn func(current Value) (Value, error)

// Transact runs an optimistic read-modify-write loop at path until the
// write commits or ctx is done. Two clients transacting on the same
// node never lose an update: the loser of a race re-reads the winner's
// value and reapplies fn.
func Transact(ctx context.Context, c Client, path string, fn UpdateFn) (Value, error) {
	for {
		cur, ver, err := c.GetVersioned(ctx, path)
		if err != nil {
			return nil, err
		}
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		ok, err := c.CompareAndSwap(ctx, path, ver, next)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
		TxnRetries.Inc()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}
