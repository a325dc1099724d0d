package valuecache

import "context"

// Storage is an opaque column blob indexed by data row. Its concrete type is
// owned by the Accessor of the attribute it belongs to.
type Storage any

// Freshness describes the state of a cached value.
type Freshness int

const (
	// NoValue means the item or the attribute is not tracked by the cache.
	NoValue Freshness = iota
	// Stale means a value may be present but is missing or outdated.
	Stale
	// Fresh means the value matches the database as of the last load.
	Fresh
)

func (f Freshness) String() string {
	switch f {
	case NoValue:
		return "no_value"
	case Stale:
		return "stale"
	case Fresh:
		return "fresh"
	default:
		return "unknown"
	}
}

// SinkResult tells a loader whether to keep delivering batches.
type SinkResult int

const (
	// Continue asks the loader to deliver the next batch.
	Continue SinkResult = iota
	// Stop asks the loader to return without error as soon as possible.
	Stop
)

// Sink receives loaded batches. requested and loaded are sorted and unique;
// loaded is a subset of requested and its i-th item is stored at index i of
// storage. Requested items missing from loaded have no value.
type Sink interface {
	OnLoaded(requested, loaded []int64, storage Storage) SinkResult
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(requested, loaded []int64, storage Storage) SinkResult

// OnLoaded calls f.
func (f SinkFunc) OnLoaded(requested, loaded []int64, storage Storage) SinkResult {
	return f(requested, loaded, storage)
}

// Attribute is a loadable column. Attributes are compared with ==, so
// implementations must be comparable; pointer types are the usual choice.
type Attribute interface {
	// Name identifies the attribute in logs and metrics.
	Name() string

	// Accessor returns the accessor for the storage produced by Load.
	Accessor() Accessor

	// Load reads values of items (sorted, unique) within tx and reports them
	// to sink, possibly in several batches. When sink returns Stop, Load
	// should return nil promptly.
	Load(ctx context.Context, tx Transaction, items []int64, sink Sink) error
}

// Transaction is a read view of the item database.
type Transaction interface {
	// Icn returns the change counter the transaction observes.
	Icn() int64

	// ChangedItemsSorted returns the ids of items changed after sinceIcn, in
	// ascending order. It may return ErrChangesUnavailable.
	ChangedItemsSorted(ctx context.Context, sinceIcn int64) ([]int64, error)
}

// UpdateFunc is notified with the sorted ids of items whose cached values
// were replaced by a load. It is invoked without the manager lock held.
type UpdateFunc func(items []int64)
