package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a set of attributes emitted by one contract call during an
// invocation.
type Event struct {
	Contract   common.Address    `json:"contract"`
	Action     string            `json:"action"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attr returns the attribute value for key, or "".
func (e Event) Attr(key string) string {
	return e.Attributes[key]
}

// Receipt records one committed top-level invocation.
type Receipt struct {
	ID         string          `json:"id"`
	Height     uint64          `json:"height"`
	Sender     common.Address  `json:"sender"`
	Contract   common.Address  `json:"contract"`
	Kind       string          `json:"kind"` // "execute" or "instantiate"
	Action     string          `json:"action"`
	Msg        json.RawMessage `json:"msg"`
	Events     []Event         `json:"events"`
	Data       json.RawMessage `json:"data,omitempty"`
	Writes     int             `json:"writes"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// StateWrite is one key/value pair of a committed write set.
type StateWrite struct {
	Key   []byte
	Value []byte
}

// ContractInfo describes an instantiated contract.
type ContractInfo struct {
	Address common.Address `json:"address"`
	Code    string         `json:"code"`
	Label   string         `json:"label"`
	Creator common.Address `json:"creator"`
	Height  uint64         `json:"height"`
}

// LedgerEvent is the payload published on the signal bus for each event of a
// committed receipt.
type LedgerEvent struct {
	ReceiptID string `json:"receipt_id"`
	Height    uint64 `json:"height"`
	Event
}
