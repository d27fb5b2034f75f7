package remote

import (
	"errors"
	"fmt"
	"iter"

	"monomem/process"
)

// ErrChainTooLong is returned when a linked structure has more than
// MaxChainLength hops, which in practice means it was read mid-update.
var ErrChainTooLong = errors.New("chain too long")

// MaxChainLength bounds every linked-list and bucket-chain walk.
const MaxChainLength = 1 << 16

// GList is a node of a doubly linked list with untyped payload pointers.
type GList[T any] struct {
	Data Ptr[T]
	Next Ptr[GList[T]]
	Prev Ptr[GList[T]]
}

// ListItems yields the Data pointer of every node from head onwards.
// A read failure is yielded once and ends the sequence.
func ListItems[T any](r process.Reader, head Ptr[GList[T]]) iter.Seq2[Ptr[T], error] {
	return func(yield func(Ptr[T], error) bool) {
		cur := head
		for hops := 0; !cur.IsNull(); hops++ {
			if hops == MaxChainLength {
				yield(Ptr[T]{}, fmt.Errorf("list at %s: %w", head, ErrChainTooLong))
				return
			}

			node, err := cur.Read(r)
			if err != nil {
				yield(Ptr[T]{}, fmt.Errorf("list node %d at %s: %w", hops, cur, err))
				return
			}

			if !yield(node.Data, nil) {
				return
			}
			cur = node.Next
		}
	}
}
