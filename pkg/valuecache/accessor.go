package valuecache

// Accessor reads and writes values of one storage representation.
// Writes return the storage, which may have been reallocated to fit index.
type Accessor interface {
	// CopyValue copies src[srcIndex] into dst[dstIndex].
	CopyValue(src Storage, srcIndex int, dst Storage, dstIndex int) Storage

	// SetNull clears dst[index].
	SetNull(dst Storage, index int) Storage

	// ObjectValue returns s[index] boxed, or nil when absent.
	ObjectValue(s Storage, index int) any
}

// IntValueAccessor is implemented by accessors storing int32 values.
type IntValueAccessor interface {
	Accessor
	IntValue(s Storage, index int) int32
}

// LongValueAccessor is implemented by accessors storing int64 values.
type LongValueAccessor interface {
	Accessor
	LongValue(s Storage, index int) int64
}

// sliceAccessor stores values in a []T; the zero value of T is null.
type sliceAccessor[T any] struct{}

func (sliceAccessor[T]) slice(s Storage) []T {
	if s == nil {
		return nil
	}
	return s.([]T)
}

func (a sliceAccessor[T]) grow(s Storage, index int) []T {
	values := a.slice(s)
	if index < len(values) {
		return values
	}
	if index < cap(values) {
		return values[:index+1]
	}
	grown := make([]T, index+1, max(2*cap(values), index+1, 8))
	copy(grown, values)
	return grown
}

func (a sliceAccessor[T]) get(s Storage, index int) (T, bool) {
	values := a.slice(s)
	if index < 0 || index >= len(values) {
		var zero T
		return zero, false
	}
	return values[index], true
}

func (a sliceAccessor[T]) CopyValue(src Storage, srcIndex int, dst Storage, dstIndex int) Storage {
	value, _ := a.get(src, srcIndex)
	values := a.grow(dst, dstIndex)
	values[dstIndex] = value
	return values
}

func (a sliceAccessor[T]) SetNull(dst Storage, index int) Storage {
	values := a.grow(dst, index)
	var zero T
	values[index] = zero
	return values
}

// IntAccessor stores int32 values in a []int32.
type IntAccessor struct{ sliceAccessor[int32] }

// ObjectValue returns the value as int32, or nil when the row is out of range.
func (a IntAccessor) ObjectValue(s Storage, index int) any {
	if v, ok := a.get(s, index); ok {
		return v
	}
	return nil
}

// IntValue returns the value at index, zero when absent.
func (a IntAccessor) IntValue(s Storage, index int) int32 {
	v, _ := a.get(s, index)
	return v
}

// LongAccessor stores int64 values in a []int64.
type LongAccessor struct{ sliceAccessor[int64] }

// ObjectValue returns the value as int64, or nil when the row is out of range.
func (a LongAccessor) ObjectValue(s Storage, index int) any {
	if v, ok := a.get(s, index); ok {
		return v
	}
	return nil
}

// LongValue returns the value at index, zero when absent.
func (a LongAccessor) LongValue(s Storage, index int) int64 {
	v, _ := a.get(s, index)
	return v
}

// ObjectAccessor stores arbitrary values in a []any; nil is null.
type ObjectAccessor struct{ sliceAccessor[any] }

// ObjectValue returns the stored value.
func (a ObjectAccessor) ObjectValue(s Storage, index int) any {
	v, _ := a.get(s, index)
	return v
}

var (
	_ IntValueAccessor  = IntAccessor{}
	_ LongValueAccessor = LongAccessor{}
	_ Accessor          = ObjectAccessor{}
)
