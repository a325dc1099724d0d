package redisdb

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/vnykmshr/valuecache-go/pkg/valuecache"
)

type valueKind int

const (
	objectValues valueKind = iota
	longValues
)

// HashAttribute loads one attribute column from a Redis hash written by
// Store.Write. Items without a field have no value.
type HashAttribute struct {
	store    *Store
	name     string
	kind     valueKind
	accessor valuecache.Accessor
}

// NewObjectAttribute creates an attribute whose values decode to any.
// JSON numbers decode to float64.
func NewObjectAttribute(store *Store, name string) *HashAttribute {
	return &HashAttribute{store: store, name: name, kind: objectValues, accessor: valuecache.ObjectAccessor{}}
}

// NewLongAttribute creates an attribute whose values decode to int64.
// Zero is indistinguishable from no value.
func NewLongAttribute(store *Store, name string) *HashAttribute {
	return &HashAttribute{store: store, name: name, kind: longValues, accessor: valuecache.LongAccessor{}}
}

// Name returns the attribute name
func (a *HashAttribute) Name() string {
	return a.name
}

// Accessor returns the accessor for the storage produced by Load
func (a *HashAttribute) Accessor() valuecache.Accessor {
	return a.accessor
}

// Load fetches items in batches of the store's batch size, reporting each
// batch to sink until it asks to stop.
func (a *HashAttribute) Load(ctx context.Context, _ valuecache.Transaction, items []int64, sink valuecache.Sink) error {
	batchSize := a.store.batchSize
	for start := 0; start < len(items); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		requested := items[start:min(start+batchSize, len(items))]
		loaded, storage, err := a.fetch(ctx, requested)
		if err != nil {
			return err
		}
		if sink.OnLoaded(requested, loaded, storage) == valuecache.Stop {
			return nil
		}
	}
	return nil
}

func (a *HashAttribute) fetch(ctx context.Context, requested []int64) ([]int64, valuecache.Storage, error) {
	fields := make([]string, len(requested))
	for i, item := range requested {
		fields[i] = itemField(item)
	}

	raw, err := a.store.client.HMGet(ctx, a.store.attributeKey(a.name), fields...).Result()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load %s", a.name)
	}

	loaded := make([]int64, 0, len(requested))
	var objects []any
	var longs []int64
	for i, value := range raw {
		encoded, ok := value.(string)
		if !ok {
			continue
		}

		switch a.kind {
		case longValues:
			var v int64
			if err := a.store.codec.Decode([]byte(encoded), &v); err != nil {
				return nil, nil, errors.Wrapf(err, "decode %s of item %d", a.name, requested[i])
			}
			longs = append(longs, v)
		default:
			var v any
			if err := a.store.codec.Decode([]byte(encoded), &v); err != nil {
				return nil, nil, errors.Wrapf(err, "decode %s of item %d", a.name, requested[i])
			}
			objects = append(objects, v)
		}
		loaded = append(loaded, requested[i])
	}

	if a.kind == longValues {
		return loaded, longs, nil
	}
	return loaded, objects, nil
}

var _ valuecache.Attribute = (*HashAttribute)(nil)
