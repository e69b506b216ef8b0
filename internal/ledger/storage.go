package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// Item is a single typed JSON value stored under a fixed key.
type Item[T any] struct {
	key []byte
}

// NewItem returns an Item stored at key.
func NewItem[T any](key string) Item[T] {
	return Item[T]{key: []byte(key)}
}

// Load returns the stored value or an error wrapping domain.ErrNotFound.
func (i Item[T]) Load(r Reader) (T, error) {
	v, ok, err := i.MayLoad(r)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("ledger: item %s: %w", i.key, domain.ErrNotFound)
	}
	return v, nil
}

// MayLoad returns the stored value and whether it exists.
func (i Item[T]) MayLoad(r Reader) (T, bool, error) {
	var v T
	raw, ok := r.Get(i.key)
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("ledger: decode item %s: %w", i.key, err)
	}
	return v, true, nil
}

// Save overwrites the stored value.
func (i Item[T]) Save(kv KV, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ledger: encode item %s: %w", i.key, err)
	}
	kv.Set(i.key, raw)
	return nil
}

// Map is a typed JSON map keyed by raw bytes under a namespace.
type Map[V any] struct {
	prefix []byte
}

// NewMap returns a Map under namespace. Namespaces must not be prefixes of
// each other within one contract.
func NewMap[V any](namespace string) Map[V] {
	return Map[V]{prefix: []byte(namespace + ":")}
}

func (m Map[V]) key(k []byte) []byte {
	out := make([]byte, 0, len(m.prefix)+len(k))
	return append(append(out, m.prefix...), k...)
}

// Load returns the value under k or an error wrapping domain.ErrNotFound.
func (m Map[V]) Load(r Reader, k []byte) (V, error) {
	v, ok, err := m.MayLoad(r, k)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("ledger: %s%x: %w", m.prefix, k, domain.ErrNotFound)
	}
	return v, nil
}

// MayLoad returns the value under k and whether it exists.
func (m Map[V]) MayLoad(r Reader, k []byte) (V, bool, error) {
	var v V
	raw, ok := r.Get(m.key(k))
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("ledger: decode %s%x: %w", m.prefix, k, err)
	}
	return v, true, nil
}

// Has reports whether k is present.
func (m Map[V]) Has(r Reader, k []byte) bool {
	_, ok := r.Get(m.key(k))
	return ok
}

// Save overwrites the value under k.
func (m Map[V]) Save(kv KV, k []byte, v V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ledger: encode %s%x: %w", m.prefix, k, err)
	}
	kv.Set(m.key(k), raw)
	return nil
}

// Range visits every entry in ascending key order. Returning an error from fn
// stops the walk and is returned.
func (m Map[V]) Range(r Reader, fn func(k []byte, v V) error) error {
	var walkErr error
	r.Iterate(m.prefix, func(key, raw []byte) bool {
		var v V
		if err := json.Unmarshal(raw, &v); err != nil {
			walkErr = fmt.Errorf("ledger: decode %s: %w", key, err)
			return false
		}
		if err := fn(key[len(m.prefix):], v); err != nil {
			walkErr = err
			return false
		}
		return true
	})
	return walkErr
}

// AddressKey is the map key for an account.
func AddressKey(a common.Address) []byte { return a.Bytes() }

// PairKey is the map key for an ordered pair of accounts.
func PairKey(a, b common.Address) []byte {
	return append(a.Bytes(), b.Bytes()...)
}

// KeyAddress decodes an account map key.
func KeyAddress(k []byte) common.Address { return common.BytesToAddress(k) }
