package remote

import (
	"fmt"
	"iter"

	"monomem/process"
)

// Entry is one value found while walking a chained table.
type Entry[T any] struct {
	Ptr   Ptr[T]
	Value T
}

// Chained walks an open-chaining table: buckets slots starting at table,
// each the head of a chain linked through next. Entries come out in bucket
// order, then chain order. Each bucket slot and node is read when reached.
// A read failure is yielded once and ends the sequence.
func Chained[T any](r process.Reader, table Ptr[Ptr[T]], buckets int, next func(T) Ptr[T]) iter.Seq2[Entry[T], error] {
	return func(yield func(Entry[T], error) bool) {
		if buckets > 0 && table.IsNull() {
			yield(Entry[T]{}, fmt.Errorf("bucket array: %w", ErrNullPointer))
			return
		}

		for i := 0; i < buckets; i++ {
			cur, err := table.ReadAt(r, int64(i))
			if err != nil {
				yield(Entry[T]{}, fmt.Errorf("bucket %d: %w", i, err))
				return
			}

			for hops := 0; !cur.IsNull(); hops++ {
				if hops == MaxChainLength {
					yield(Entry[T]{}, fmt.Errorf("bucket %d: %w", i, ErrChainTooLong))
					return
				}

				v, err := cur.Read(r)
				if err != nil {
					yield(Entry[T]{}, fmt.Errorf("bucket %d node %s: %w", i, cur, err))
					return
				}

				if !yield(Entry[T]{Ptr: cur, Value: v}, nil) {
					return
				}
				cur = next(v)
			}
		}
	}
}

// InternalHashTable is the runtime's intrusive hash table: values carry
// their own chain link, found through a runtime callback the reader cannot
// call. Walkers supply the link accessor instead.
type InternalHashTable[T any] struct {
	HashFunc   Ptr[Object]
	KeyExtract Ptr[Object]
	NextValue  Ptr[Object]
	Size       int32
	NumEntries int32
	Table      Ptr[Ptr[T]]
}

// Walk yields every value in the table.
func (h InternalHashTable[T]) Walk(r process.Reader, next func(T) Ptr[T]) iter.Seq2[Entry[T], error] {
	return Chained(r, h.Table, int(h.Size), next)
}

// GHashTable is the general-purpose string/pointer keyed table.
type GHashTable[K, V any] struct {
	HashFunc     Ptr[Object]
	KeyEqualFunc Ptr[Object]
	Table        Ptr[Ptr[Slot[K, V]]]
	TableSize    int32
	InUse        int32
	Threshold    int32
	LastRehash   int32
	ValueDestroy Ptr[Object]
	KeyDestroy   Ptr[Object]
}

// Slot is one key/value node of a GHashTable chain.
type Slot[K, V any] struct {
	Key   Ptr[K]
	Value Ptr[V]
	Next  Ptr[Slot[K, V]]
}

// Pairs yields every slot, bucket by bucket.
func (h GHashTable[K, V]) Pairs(r process.Reader) iter.Seq2[Slot[K, V], error] {
	return func(yield func(Slot[K, V], error) bool) {
		next := func(s Slot[K, V]) Ptr[Slot[K, V]] { return s.Next }
		for e, err := range Chained(r, h.Table, int(h.TableSize), next) {
			if !yield(e.Value, err) || err != nil {
				return
			}
		}
	}
}

// StrHash is the runtime's string hash: the first byte is skipped and the
// terminating NUL is mixed in.
func StrHash(s string) uint32 {
	var hash uint32
	for i := 1; i <= len(s); i++ {
		var c byte
		if i < len(s) {
			c = s[i]
		}
		hash = (hash << 5) - (hash + uint32(c))
	}
	return hash
}

// Lookup finds the value stored under a string key. Only the key's bucket is walked.
func Lookup[V any](r process.Reader, h GHashTable[CStr, V], key string) (Ptr[V], bool, error) {
	if h.TableSize <= 0 {
		return Ptr[V]{}, false, nil
	}

	bucket := int64(StrHash(key) % uint32(h.TableSize))
	cur, err := h.Table.ReadAt(r, bucket)
	if err != nil {
		return Ptr[V]{}, false, fmt.Errorf("bucket %d: %w", bucket, err)
	}

	for hops := 0; !cur.IsNull(); hops++ {
		if hops == MaxChainLength {
			return Ptr[V]{}, false, fmt.Errorf("bucket %d: %w", bucket, ErrChainTooLong)
		}

		slot, err := cur.Read(r)
		if err != nil {
			return Ptr[V]{}, false, err
		}

		if !slot.Key.IsNull() {
			eq, err := EqualString(r, slot.Key, key)
			if err != nil {
				return Ptr[V]{}, false, err
			}
			if eq {
				return slot.Value, true, nil
			}
		}
		cur = slot.Next
	}

	return Ptr[V]{}, false, nil
}
