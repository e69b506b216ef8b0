package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// BondService defines the methods that the bond handler requires.
type BondService interface {
	GetBond(ctx context.Context, addr common.Address) (domain.BondSummary, error)
	ListBonds(ctx context.Context) ([]domain.BondSummary, error)
	Receipt(ctx context.Context, id string) (domain.Receipt, error)
	Receipts(ctx context.Context, opts domain.ListOpts) ([]domain.Receipt, error)
}

// BondHandler serves the bond read model and receipt history.
type BondHandler struct {
	bonds  BondService
	logger *slog.Logger
}

// NewBondHandler creates a BondHandler with the given service and logger.
func NewBondHandler(bonds BondService, logger *slog.Logger) *BondHandler {
	return &BondHandler{bonds: bonds, logger: logger}
}

// ListBonds returns the summaries of every registered bond.
// GET /api/bonds
func (h *BondHandler) ListBonds(w http.ResponseWriter, r *http.Request) {
	bonds, err := h.bonds.ListBonds(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, "list bonds", err)
		return
	}
	if bonds == nil {
		bonds = []domain.BondSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bonds": bonds,
		"count": len(bonds),
	})
}

// GetBond returns the summary of a single bond.
// GET /api/bonds/{address}
func (h *BondHandler) GetBond(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bond, err := h.bonds.GetBond(r.Context(), addr)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get bond", err)
		return
	}
	writeJSON(w, http.StatusOK, bond)
}

// ListReceipts pages through committed receipts, newest first.
// GET /api/receipts?limit=&offset=&since=&until=
func (h *BondHandler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipts, err := h.bonds.Receipts(r.Context(), opts)
	if err != nil {
		writeLedgerError(w, r, h.logger, "list receipts", err)
		return
	}
	if receipts == nil {
		receipts = []domain.Receipt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receipts": receipts,
		"count":    len(receipts),
	})
}

// GetReceipt returns one receipt by ID.
// GET /api/receipts/{id}
func (h *BondHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing receipt id")
		return
	}
	receipt, err := h.bonds.Receipt(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
