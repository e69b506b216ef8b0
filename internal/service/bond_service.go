package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/bond"
	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/escrow"
	"github.com/alanyoungcy/bondledger/internal/ledger"
	"github.com/alanyoungcy/bondledger/internal/token"
)

// BondService builds bond read models from committed state and caches them
// per ledger height.
type BondService struct {
	rt       *ledger.Runtime
	escrow   common.Address
	cache    domain.BondCache
	receipts domain.ReceiptStore
	logger   *slog.Logger
}

// NewBondService creates a BondService. escrowAddr is the escrow whose
// registration and subscriptions are reported.
func NewBondService(
	rt *ledger.Runtime,
	escrowAddr common.Address,
	cache domain.BondCache,
	receipts domain.ReceiptStore,
	logger *slog.Logger,
) *BondService {
	return &BondService{
		rt:       rt,
		escrow:   escrowAddr,
		cache:    cache,
		receipts: receipts,
		logger:   logger.With(slog.String("component", "bond_service")),
	}
}

// GetBond returns the summary of the bond at addr. Non-bond contracts yield
// domain.ErrNotFound.
func (s *BondService) GetBond(ctx context.Context, addr common.Address) (domain.BondSummary, error) {
	height := s.rt.Height()
	if summary, err := s.cache.Get(ctx, addr, height); err == nil {
		return summary, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "bond_service: cache get failed",
			slog.String("bond", addr.Hex()),
			slog.String("error", err.Error()),
		)
	}

	info, err := s.rt.ContractInfo(addr)
	if err != nil {
		return domain.BondSummary{}, err
	}
	if info.Code != bond.Code {
		return domain.BondSummary{}, fmt.Errorf("bond_service: %s is a %s contract: %w", addr.Hex(), info.Code, domain.ErrNotFound)
	}

	summary, err := s.build(ctx, addr)
	if err != nil {
		return domain.BondSummary{}, fmt.Errorf("bond_service: build %s: %w", addr.Hex(), err)
	}

	if err := s.cache.Set(ctx, summary, height); err != nil {
		s.logger.WarnContext(ctx, "bond_service: cache set failed",
			slog.String("bond", addr.Hex()),
			slog.String("error", err.Error()),
		)
	}
	return summary, nil
}

// ListBonds returns the summaries of every bond registered with the escrow.
func (s *BondService) ListBonds(ctx context.Context) ([]domain.BondSummary, error) {
	tokens, err := ledger.QueryAs[escrow.BondTokensResponse](ctxQuerier{s: s, ctx: ctx}, s.escrow, &escrow.BondTokens{})
	if err != nil {
		return nil, fmt.Errorf("bond_service: list bonds: %w", err)
	}
	out := make([]domain.BondSummary, 0, len(tokens.BondTokens))
	for _, addr := range tokens.BondTokens {
		summary, err := s.GetBond(ctx, addr)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

// Receipt returns a committed receipt by ID.
func (s *BondService) Receipt(ctx context.Context, id string) (domain.Receipt, error) {
	return s.receipts.GetByID(ctx, id)
}

// Receipts lists committed receipts, newest first.
func (s *BondService) Receipts(ctx context.Context, opts domain.ListOpts) ([]domain.Receipt, error) {
	return s.receipts.List(ctx, opts)
}

func (s *BondService) build(ctx context.Context, addr common.Address) (domain.BondSummary, error) {
	q := ctxQuerier{s: s, ctx: ctx}

	st, err := ledger.QueryAs[bond.State](q, addr, &bond.Info{})
	if err != nil {
		return domain.BondSummary{}, err
	}
	tokInfo, err := ledger.QueryAs[token.Info](q, addr, &token.TokenInfo{})
	if err != nil {
		return domain.BondSummary{}, err
	}
	holders, err := ledger.QueryAs[bond.HoldersResponse](q, addr, &bond.Holders{})
	if err != nil {
		return domain.BondSummary{}, err
	}
	estimate, err := ledger.QueryAs[bond.RedemptionResponse](q, addr, &bond.EstimateRedemption{})
	if err != nil {
		return domain.BondSummary{}, err
	}

	summary := domain.BondSummary{
		Address:         addr,
		Name:            tokInfo.Name,
		Symbol:          tokInfo.Symbol,
		Issuer:          st.Issuer,
		Currency:        st.Currency,
		Phase:           st.Phase,
		Denomination:    st.Denomination,
		FeePolicy:       st.FeePolicy,
		Functions:       st.Functions,
		TotalSupply:     tokInfo.TotalSupply,
		EstimatedRedeem: estimate.RedemptionAmount,
		Holders:         holders.Holders,
		Subscriptions:   []domain.Subscription{},
		AdditionalData:  st.AdditionalData,
	}

	// The bond may point at an escrow other than ours; report against its own.
	valid, err := ledger.QueryAs[escrow.ValidationResponse](q, st.Escrow, &escrow.ValidateBondToken{BondToken: addr})
	if err != nil {
		return domain.BondSummary{}, err
	}
	summary.Registered = valid.Validity
	if valid.Validity {
		subs, err := ledger.QueryAs[escrow.SubscriptionsResponse](q, st.Escrow, &escrow.SubscriptionsOf{BondToken: addr})
		if err != nil {
			return domain.BondSummary{}, err
		}
		summary.Subscriptions = subs.Subscriptions
	}
	return summary, nil
}

// ctxQuerier adapts the runtime's committed-state queries to ledger.Querier.
type ctxQuerier struct {
	s   *BondService
	ctx context.Context
}

func (q ctxQuerier) Query(contract common.Address, msg ledger.Msg) (any, error) {
	return q.s.rt.Query(q.ctx, contract, msg)
}

func (q ctxQuerier) ContractInfo(addr common.Address) (domain.ContractInfo, error) {
	return q.s.rt.ContractInfo(addr)
}
