// Package ordered provides a generic ordered associative container.
//
// [Map] keeps its pairs sorted by key in a red-black tree, giving O(log n)
// point operations and ascending iteration. It is not safe for concurrent use.
package ordered

import (
	"cmp"
	"iter"

	"github.com/emirpasic/gods/trees/redblacktree"
)

// Entry is a key-value pair copied out of a Map.
type Entry[K cmp.Ordered, V any] struct {
	Key   K
	Value V
}

// Map is an ordered map from K to V.
//
// The zero value is not usable; create one with [New].
type Map[K cmp.Ordered, V any] struct {
	// Values are boxed so GetMut can hand out a stable pointer.
	tree *redblacktree.Tree
}

// New returns an empty Map.
func New[K cmp.Ordered, V any]() *Map[K, V] {
	return &Map[K, V]{
		tree: redblacktree.NewWith(func(a, b any) int {
			return cmp.Compare(a.(K), b.(K))
		}),
	}
}

// Insert stores value at key, overwriting any previous value.
func (m *Map[K, V]) Insert(key K, value V) {
	if box, ok := m.box(key); ok {
		*box = value
		return
	}
	m.tree.Put(key, &value)
}

// Search returns the value stored at key.
func (m *Map[K, V]) Search(key K) (V, bool) {
	box, ok := m.box(key)
	if !ok {
		var zero V
		return zero, false
	}
	return *box, true
}

// GetMut returns a pointer to the value stored at key.
//
// The pointer stays valid until the key is removed or the map is cleared.
func (m *Map[K, V]) GetMut(key K) (*V, bool) {
	return m.box(key)
}

// Remove deletes key and returns the value it held.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	box, ok := m.box(key)
	if !ok {
		var zero V
		return zero, false
	}
	m.tree.Remove(key)
	return *box, true
}

// Traverse calls fn for every pair in ascending key order.
func (m *Map[K, V]) Traverse(fn func(K, V)) {
	for k, v := range m.All() {
		fn(k, v)
	}
}

// All returns an iterator over the pairs in ascending key order.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		it := m.tree.Iterator()
		for it.Next() {
			if !yield(it.Key().(K), *it.Value().(*V)) {
				return
			}
		}
	}
}

// Entries returns a snapshot of all pairs in ascending key order.
func (m *Map[K, V]) Entries() []Entry[K, V] {
	out := make([]Entry[K, V], 0, m.tree.Size())
	for k, v := range m.All() {
		out = append(out, Entry[K, V]{Key: k, Value: v})
	}
	return out
}

// Keys returns all keys in ascending order.
func (m *Map[K, V]) Keys() []K {
	out := make([]K, 0, m.tree.Size())
	for k := range m.All() {
		out = append(out, k)
	}
	return out
}

// Min returns the smallest key and its value.
func (m *Map[K, V]) Min() (K, V, bool) {
	return unbox[K, V](m.tree.Left())
}

// Max returns the largest key and its value.
func (m *Map[K, V]) Max() (K, V, bool) {
	return unbox[K, V](m.tree.Right())
}

// Len returns the number of pairs.
func (m *Map[K, V]) Len() int {
	return m.tree.Size()
}

// IsEmpty reports whether the map holds no pairs.
func (m *Map[K, V]) IsEmpty() bool {
	return m.tree.Empty()
}

// Clear removes all pairs.
func (m *Map[K, V]) Clear() {
	m.tree.Clear()
}

func (m *Map[K, V]) box(key K) (*V, bool) {
	v, ok := m.tree.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*V), true
}

func unbox[K cmp.Ordered, V any](n *redblacktree.Node) (K, V, bool) {
	if n == nil {
		var k K
		var v V
		return k, v, false
	}
	return n.Key.(K), *n.Value.(*V), true
}
