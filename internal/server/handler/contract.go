package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/server/middleware"
	"github.com/alanyoungcy/bondledger/internal/service"
)

// LedgerService defines the methods that the contract handler requires.
type LedgerService interface {
	Height() uint64
	Execute(ctx context.Context, sender, contract common.Address, action string, raw json.RawMessage) (*domain.Receipt, error)
	Instantiate(ctx context.Context, sender common.Address, code, label string, raw json.RawMessage) (*domain.Receipt, error)
	Query(ctx context.Context, contract common.Address, name string, raw json.RawMessage) (any, error)
	Contract(ctx context.Context, addr common.Address) (service.ContractView, error)
	Contracts(ctx context.Context) ([]domain.ContractInfo, error)
}

// ContractHandler serves contract instantiation, execution and queries.
type ContractHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewContractHandler creates a ContractHandler with the given service and logger.
func NewContractHandler(ledger LedgerService, logger *slog.Logger) *ContractHandler {
	return &ContractHandler{ledger: ledger, logger: logger}
}

type instantiateRequest struct {
	Code  string          `json:"code"`
	Label string          `json:"label"`
	Msg   json.RawMessage `json:"msg"`
}

type executeRequest struct {
	Action string          `json:"action"`
	Msg    json.RawMessage `json:"msg"`
}

type queryRequest struct {
	Query string          `json:"query"`
	Msg   json.RawMessage `json:"msg"`
}

type queryResponse struct {
	Height uint64 `json:"height"`
	Result any    `json:"result"`
}

// Instantiate creates a contract with the signed sender as creator.
// POST /api/instantiate
func (h *ContractHandler) Instantiate(w http.ResponseWriter, r *http.Request) {
	sender, ok := middleware.SenderFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing request signature")
		return
	}
	var req instantiateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	req.Label = strings.TrimSpace(req.Label)
	if req.Code == "" || req.Label == "" {
		writeError(w, http.StatusBadRequest, "code and label are required")
		return
	}

	receipt, err := h.ledger.Instantiate(r.Context(), sender, req.Code, req.Label, req.Msg)
	if err != nil {
		writeLedgerError(w, r, h.logger, "instantiate", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// Execute runs an execute message on a contract as the signed sender.
// POST /api/contracts/{address}/execute
func (h *ContractHandler) Execute(w http.ResponseWriter, r *http.Request) {
	sender, ok := middleware.SenderFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing request signature")
		return
	}
	contract, err := parseAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	receipt, err := h.ledger.Execute(r.Context(), sender, contract, req.Action, req.Msg)
	if err != nil {
		writeLedgerError(w, r, h.logger, "execute", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// Query runs a read-only query on a contract.
// POST /api/contracts/{address}/query
func (h *ContractHandler) Query(w http.ResponseWriter, r *http.Request) {
	contract, err := parseAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	height := h.ledger.Height()
	res, err := h.ledger.Query(r.Context(), contract, req.Query, req.Msg)
	if err != nil {
		writeLedgerError(w, r, h.logger, "query", err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Height: height, Result: res})
}

// GetContract describes one contract instance and the messages it accepts.
// GET /api/contracts/{address}
func (h *ContractHandler) GetContract(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.ledger.Contract(r.Context(), addr)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListContracts lists every contract instance.
// GET /api/contracts
func (h *ContractHandler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.ledger.Contracts(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, "list contracts", err)
		return
	}
	if contracts == nil {
		contracts = []domain.ContractInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contracts": contracts,
		"count":     len(contracts),
		"height":    h.ledger.Height(),
	})
}
