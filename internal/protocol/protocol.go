// Package protocol registers the bond protocol contract codes on a runtime and
// deploys the shared escrow, orchestrator and factory instances.
package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/access"
	"github.com/alanyoungcy/bondledger/internal/bond"
	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/escrow"
	"github.com/alanyoungcy/bondledger/internal/factory"
	"github.com/alanyoungcy/bondledger/internal/ledger"
	"github.com/alanyoungcy/bondledger/internal/orchestrator"
	"github.com/alanyoungcy/bondledger/internal/token"
)

// Labels of the singleton instances created by Bootstrap.
const (
	EscrowLabel       = "escrow"
	OrchestratorLabel = "orchestrator"
	FactoryLabel      = "factory"
)

// Register makes every protocol code available on rt.
func Register(rt *ledger.Runtime) {
	rt.Register(token.Code, token.New())
	rt.Register(bond.Code, bond.New())
	rt.Register(escrow.Code, escrow.New())
	rt.Register(orchestrator.Code, orchestrator.New())
	rt.Register(factory.Code, factory.New())
}

// Addresses are the singleton instances owned by one admin.
type Addresses struct {
	Admin        common.Address `json:"admin"`
	Escrow       common.Address `json:"escrow"`
	Orchestrator common.Address `json:"orchestrator"`
	Factory      common.Address `json:"factory"`
}

// Predict returns the addresses Bootstrap deploys for admin.
func Predict(admin common.Address) Addresses {
	return Addresses{
		Admin:        admin,
		Escrow:       ledger.ContractAddress(admin, escrow.Code, EscrowLabel),
		Orchestrator: ledger.ContractAddress(admin, orchestrator.Code, OrchestratorLabel),
		Factory:      ledger.ContractAddress(admin, factory.Code, FactoryLabel),
	}
}

// FindEscrow returns the single escrow instance recorded in rt's committed
// state. It fails with domain.ErrNotFound when there is none and refuses to
// guess between several.
func FindEscrow(rt *ledger.Runtime) (common.Address, error) {
	infos, err := rt.Contracts()
	if err != nil {
		return common.Address{}, fmt.Errorf("protocol: find escrow: %w", err)
	}
	var found []common.Address
	for _, info := range infos {
		if info.Code == escrow.Code && info.Label == EscrowLabel {
			found = append(found, info.Address)
		}
	}
	switch len(found) {
	case 0:
		return common.Address{}, fmt.Errorf("protocol: find escrow: %w", domain.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return common.Address{}, fmt.Errorf("protocol: find escrow: %d escrow instances, set admin_address", len(found))
	}
}

// Bootstrap deploys and cross-wires escrow, orchestrator and factory as admin.
// Instances that already exist are left untouched, so it is safe on restart.
func Bootstrap(ctx context.Context, rt *ledger.Runtime, admin common.Address) (Addresses, error) {
	addrs := Predict(admin)
	if res, err := rt.Query(ctx, addrs.Factory, &factory.ConfigQuery{}); err == nil {
		if cfg, ok := res.(factory.Config); ok && cfg.Escrow != nil {
			return addrs, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return addrs, fmt.Errorf("protocol: bootstrap: %w", err)
	}

	instances := []struct {
		code, label string
		addr        common.Address
		msg         ledger.Msg
	}{
		{escrow.Code, EscrowLabel, addrs.Escrow, &escrow.InstantiateMsg{}},
		{orchestrator.Code, OrchestratorLabel, addrs.Orchestrator, &orchestrator.InstantiateMsg{}},
		{factory.Code, FactoryLabel, addrs.Factory, &factory.InstantiateMsg{}},
	}
	for _, in := range instances {
		if _, err := rt.ContractInfo(in.addr); err == nil {
			continue
		}
		if _, err := rt.Instantiate(ctx, admin, in.code, in.label, in.msg); err != nil {
			return addrs, fmt.Errorf("protocol: instantiate %s: %w", in.code, err)
		}
	}

	calls := []struct {
		contract common.Address
		msg      ledger.Msg
	}{
		{addrs.Escrow, &escrow.Setup{Factory: addrs.Factory, Orchestrator: addrs.Orchestrator}},
		{addrs.Orchestrator, &orchestrator.Setup{Escrow: addrs.Escrow, Factory: addrs.Factory}},
		{addrs.Factory, &factory.Setup{Escrow: addrs.Escrow, Orchestrator: addrs.Orchestrator}},
		{addrs.Escrow, &access.SetOperators{
			Operators:   []common.Address{addrs.Factory},
			IsOperators: []bool{true},
		}},
	}
	for _, c := range calls {
		if _, err := rt.Execute(ctx, admin, c.contract, c.msg); err != nil {
			return addrs, fmt.Errorf("protocol: %s on %s: %w", c.msg.Action(), c.contract.Hex(), err)
		}
	}
	return addrs, nil
}
