package model

import "github.com/samcharles93/hybridlm/internal/tensor"

// Block is one of the four layer bodies. Forward maps [batch, seq, hidden]
// to the same shape. entry is the layer's cache slot; blocks resolve it by
// its concrete type and reject slots that are not theirs.
type Block interface {
	Forward(x *tensor.Tensor, entry CacheEntry) (*tensor.Tensor, error)
	// Check validates entry against the block without mutating it.
	Check(entry CacheEntry, batch int) error
	// NewEntry returns a fresh cache slot, nil for stateless blocks.
	NewEntry(o cacheOptions) CacheEntry
	// Params counts learned parameters.
	Params() int
}

// checkStateless rejects any slot handed to a block that keeps no state.
func checkStateless(kind BlockType, entry CacheEntry) error {
	if entry != nil {
		return shapeErrorf(-1, "%s block takes no cache entry, got %s state", kind, entry.Kind())
	}
	return nil
}
