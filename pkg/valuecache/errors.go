package valuecache

import "github.com/cockroachdb/errors"

var (
	// ErrDisposed is returned by operations on a cache after Dispose.
	ErrDisposed = errors.New("valuecache: cache is disposed")

	// ErrAlreadyAttached is returned when a client is attached to a scheduler twice.
	ErrAlreadyAttached = errors.New("valuecache: already attached")

	// ErrNotAttached is returned when a job is requested for a client the
	// scheduler does not know.
	ErrNotAttached = errors.New("valuecache: not attached")

	// ErrChangesUnavailable may be returned by Transaction.ChangedItemsSorted
	// when the change log no longer covers the requested range. Every cache
	// is then treated as fully outdated.
	ErrChangesUnavailable = errors.New("valuecache: changed items unavailable")

	// ErrUnsupportedTransaction is returned by a scheduler that cannot run a
	// job's transaction type.
	ErrUnsupportedTransaction = errors.New("valuecache: unsupported transaction type")

	// ErrTooManyKeys is returned by CompoundUpdate.Apply when the update names
	// more keys than the compound cache keeps.
	ErrTooManyKeys = errors.New("valuecache: update exceeds the key limit")

	// ErrWorkerClosed is returned by Worker operations after Close.
	ErrWorkerClosed = errors.New("valuecache: worker closed")
)

// IsInternalError reports whether err signals a broken bookkeeping invariant.
func IsInternalError(err error) bool {
	return errors.IsAssertionFailure(err)
}
