package ledger

import (
	"bytes"

	"github.com/google/btree"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// Reader is read access to an ordered key-value space.
type Reader interface {
	Get(key []byte) ([]byte, bool)
	// Iterate visits every key starting with prefix in ascending order until
	// fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool)
}

// KV is an ordered key-value space that is written by overwrite only.
type KV interface {
	Reader
	Set(key, value []byte)
}

type entry struct {
	key   []byte
	value []byte
}

func lessEntry(a, b entry) bool { return bytes.Compare(a.key, b.key) < 0 }

// Tree is the committed in-memory state, ordered by key.
type Tree struct {
	bt *btree.BTreeG[entry]
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{bt: btree.NewG(32, lessEntry)}
}

func (t *Tree) Get(key []byte) ([]byte, bool) {
	e, ok := t.bt.Get(entry{key: key})
	return e.value, ok
}

func (t *Tree) Set(key, value []byte) {
	t.bt.ReplaceOrInsert(entry{key: bytes.Clone(key), value: bytes.Clone(value)})
}

func (t *Tree) Iterate(prefix []byte, fn func(key, value []byte) bool) {
	ascendPrefix(t.bt, prefix, func(e entry) bool { return fn(e.key, e.value) })
}

// Len returns the number of keys.
func (t *Tree) Len() int { return t.bt.Len() }

func ascendPrefix(bt *btree.BTreeG[entry], prefix []byte, fn func(entry) bool) {
	if len(prefix) == 0 {
		bt.Ascend(fn)
		return
	}
	end := prefixEnd(prefix)
	if end == nil {
		bt.AscendGreaterOrEqual(entry{key: prefix}, fn)
		return
	}
	bt.AscendRange(entry{key: prefix}, entry{key: end}, fn)
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Overlay buffers writes over a parent reader. Reads see the buffered writes
// first. Nothing reaches the parent until Flush.
type Overlay struct {
	parent Reader
	writes *Tree
}

// NewOverlay returns an overlay on parent.
func NewOverlay(parent Reader) *Overlay {
	return &Overlay{parent: parent, writes: NewTree()}
}

func (o *Overlay) Get(key []byte) ([]byte, bool) {
	if v, ok := o.writes.Get(key); ok {
		return v, true
	}
	return o.parent.Get(key)
}

func (o *Overlay) Set(key, value []byte) {
	o.writes.Set(key, value)
}

func (o *Overlay) Iterate(prefix []byte, fn func(key, value []byte) bool) {
	var base, top []entry
	o.parent.Iterate(prefix, func(k, v []byte) bool {
		base = append(base, entry{key: k, value: v})
		return true
	})
	o.writes.Iterate(prefix, func(k, v []byte) bool {
		top = append(top, entry{key: k, value: v})
		return true
	})
	i, j := 0, 0
	for i < len(base) || j < len(top) {
		var next entry
		switch {
		case j >= len(top):
			next = base[i]
			i++
		case i >= len(base):
			next = top[j]
			j++
		default:
			c := bytes.Compare(base[i].key, top[j].key)
			if c < 0 {
				next = base[i]
				i++
			} else {
				next = top[j]
				j++
				if c == 0 {
					i++
				}
			}
		}
		if !fn(next.key, next.value) {
			return
		}
	}
}

// Writes returns the buffered write set in key order.
func (o *Overlay) Writes() []domain.StateWrite {
	out := make([]domain.StateWrite, 0, o.writes.Len())
	o.writes.Iterate(nil, func(k, v []byte) bool {
		out = append(out, domain.StateWrite{Key: k, Value: v})
		return true
	})
	return out
}

// Flush copies the buffered writes into dst.
func (o *Overlay) Flush(dst *Tree) {
	o.writes.Iterate(nil, func(k, v []byte) bool {
		dst.Set(k, v)
		return true
	})
}

// prefixed scopes a KV to keys under prefix.
type prefixed struct {
	kv     KV
	prefix []byte
}

func (p prefixed) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	return append(append(out, p.prefix...), k...)
}

func (p prefixed) Get(key []byte) ([]byte, bool) { return p.kv.Get(p.key(key)) }

func (p prefixed) Set(key, value []byte) { p.kv.Set(p.key(key), value) }

func (p prefixed) Iterate(prefix []byte, fn func(key, value []byte) bool) {
	p.kv.Iterate(p.key(prefix), func(k, v []byte) bool {
		return fn(k[len(p.prefix):], v)
	})
}

// readOnly hides Set from a query handler.
type readOnly struct {
	r Reader
}

func (r readOnly) Get(key []byte) ([]byte, bool) { return r.r.Get(key) }

func (r readOnly) Iterate(prefix []byte, fn func(key, value []byte) bool) {
	r.r.Iterate(prefix, fn)
}
