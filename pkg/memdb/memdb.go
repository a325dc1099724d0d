// Package memdb is an in-process item database for a valuecache.Manager.
// Attribute values live in maps, every write bumps a change counter and the
// last change of each item is kept so transactions can report changed items.
package memdb

import (
	"context"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/vnykmshr/valuecache-go/pkg/valuecache"
)

// DefaultBatchSize is the number of items an attribute reports per batch.
const DefaultBatchSize = 128

// Store is an in-memory item database
type Store struct {
	mu         sync.RWMutex
	icn        int64
	trimmed    int64
	retention  int64
	batchSize  int
	changes    map[int64]int64 // item -> icn of its last change
	attributes map[string]map[int64]any
}

// Option configures a Store
type Option func(*Store)

// WithBatchSize sets the number of items attributes report per batch
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithChangeLogRetention limits the change log to the last n counter
// increments. Older readers fall back to a full reload.
func WithChangeLogRetention(n int64) Option {
	return func(s *Store) {
		s.retention = max(n, 0)
	}
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		batchSize:  DefaultBatchSize,
		changes:    make(map[int64]int64),
		attributes: make(map[string]map[int64]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write stores values of one attribute and returns the new change counter
func (s *Store) Write(attribute string, values map[int64]any) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	column := s.attributes[attribute]
	if column == nil {
		column = make(map[int64]any, len(values))
		s.attributes[attribute] = column
	}

	s.icn++
	for item, value := range values {
		column[item] = value
		s.changes[item] = s.icn
	}
	s.trim()
	return s.icn
}

// Delete removes items from every attribute and returns the new change counter
func (s *Store) Delete(items ...int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.icn++
	for _, item := range items {
		for _, column := range s.attributes {
			delete(column, item)
		}
		s.changes[item] = s.icn
	}
	s.trim()
	return s.icn
}

func (s *Store) trim() {
	if s.retention == 0 || s.icn <= s.retention {
		return
	}
	s.trimmed = s.icn - s.retention
	for item, icn := range s.changes {
		if icn <= s.trimmed {
			delete(s.changes, item)
		}
	}
}

// Icn returns the current change counter
func (s *Store) Icn() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.icn
}

// Read runs fn against a view at the current change counter. Values are
// read as of each batch, so loads may observe later writes; those items are
// reported again by the next catch-up.
func (s *Store) Read(ctx context.Context, fn func(ctx context.Context, tx valuecache.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, &transaction{store: s, icn: s.Icn()})
}

type transaction struct {
	store *Store
	icn   int64
}

func (tx *transaction) Icn() int64 {
	return tx.icn
}

func (tx *transaction) ChangedItemsSorted(_ context.Context, sinceIcn int64) ([]int64, error) {
	s := tx.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sinceIcn < s.trimmed {
		return nil, valuecache.ErrChangesUnavailable
	}

	var items []int64
	for item, icn := range s.changes {
		if icn > sinceIcn {
			items = append(items, item)
		}
	}
	slices.Sort(items)
	return items, nil
}

// Attribute loads one column of a Store. Int and long attributes expect
// int32 and int64 values; anything else is reported as an error.
type Attribute struct {
	store    *Store
	name     string
	accessor valuecache.Accessor
}

// NewObjectAttribute creates an attribute holding arbitrary values
func NewObjectAttribute(store *Store, name string) *Attribute {
	return &Attribute{store: store, name: name, accessor: valuecache.ObjectAccessor{}}
}

// NewIntAttribute creates an attribute holding int32 values
func NewIntAttribute(store *Store, name string) *Attribute {
	return &Attribute{store: store, name: name, accessor: valuecache.IntAccessor{}}
}

// NewLongAttribute creates an attribute holding int64 values
func NewLongAttribute(store *Store, name string) *Attribute {
	return &Attribute{store: store, name: name, accessor: valuecache.LongAccessor{}}
}

// Name returns the attribute name
func (a *Attribute) Name() string {
	return a.name
}

// Accessor returns the accessor matching the attribute's value type
func (a *Attribute) Accessor() valuecache.Accessor {
	return a.accessor
}

// Load reports items in batches until sink asks to stop
func (a *Attribute) Load(ctx context.Context, _ valuecache.Transaction, items []int64, sink valuecache.Sink) error {
	batchSize := a.store.batchSize
	for start := 0; start < len(items); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		requested := items[start:min(start+batchSize, len(items))]
		loaded, storage, err := a.read(requested)
		if err != nil {
			return err
		}
		if sink.OnLoaded(requested, loaded, storage) == valuecache.Stop {
			return nil
		}
	}
	return nil
}

func (a *Attribute) read(requested []int64) ([]int64, valuecache.Storage, error) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	column := a.store.attributes[a.name]
	loaded := make([]int64, 0, len(requested))
	var objects []any
	var ints []int32
	var longs []int64

	for _, item := range requested {
		value, ok := column[item]
		if !ok {
			continue
		}
		switch a.accessor.(type) {
		case valuecache.IntAccessor:
			v, ok := value.(int32)
			if !ok {
				return nil, nil, errors.Newf("%s of item %d is %T, not int32", a.name, item, value)
			}
			ints = append(ints, v)
		case valuecache.LongAccessor:
			v, ok := value.(int64)
			if !ok {
				return nil, nil, errors.Newf("%s of item %d is %T, not int64", a.name, item, value)
			}
			longs = append(longs, v)
		default:
			objects = append(objects, value)
		}
		loaded = append(loaded, item)
	}

	switch a.accessor.(type) {
	case valuecache.IntAccessor:
		return loaded, ints, nil
	case valuecache.LongAccessor:
		return loaded, longs, nil
	default:
		return loaded, objects, nil
	}
}

// Ensure interfaces are implemented
var (
	_ valuecache.Database    = (*Store)(nil)
	_ valuecache.Attribute   = (*Attribute)(nil)
	_ valuecache.Transaction = (*transaction)(nil)
)
