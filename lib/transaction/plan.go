package transaction

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/ledger"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/logger"
)

// Ledger is the part of the UTXO ledger the planner needs.
type Ledger interface {
	AvailableUTXOs(includeChange bool) []ledger.UTXO
	MarkSpent(outpoints ...wire.OutPoint) error
}

// Planner selects and builds against a ledger. Planning and accepting share a
// lock so two callers never select the same coins between a plan and its
// acceptance.
type Planner struct {
	mu sync.Mutex

	Ledger           Ledger
	Selector         *CoinSelector
	ChangeSource     ChangeSource
	MinConfirmations uint32
}

// Plan builds a transaction for req without consuming any coins.
func (p *Planner) Plan(req SpendRequest) (*BuiltTransaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.plan(req)
}

func (p *Planner) plan(req SpendRequest) (*BuiltTransaction, error) {
	if len(req.Recipients) == 0 {
		return nil, ErrNoRecipients
	}

	var available []ledger.UTXO
	for _, u := range p.Ledger.AvailableUTXOs(req.AllowChangeSpend) {
		if u.Confirmations < p.MinConfirmations {
			continue
		}
		available = append(available, u)
	}
	logger.Debugf("Planning spend of %v at %v over %d candidates",
		req.Target(), req.FeeRate, len(available))

	sel, err := p.Selector.Select(available, req.Target(), len(req.Recipients),
		req.FeeRate, !req.AllowChangeSpend)
	if err != nil {
		return nil, err
	}

	return Build(sel, req, p.ChangeSource)
}

// Accept marks the inputs of built as spent. It fails with ErrAlreadySpent if
// any of them is no longer available.
func (p *Planner) Accept(built *BuiltTransaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.accept(built)
}

func (p *Planner) accept(built *BuiltTransaction) error {
	MustBeBalanced(built)

	outpoints := make([]wire.OutPoint, len(built.Inputs))
	for i, in := range built.Inputs {
		outpoints[i] = in.OutPoint
	}
	if err := p.Ledger.MarkSpent(outpoints...); err != nil {
		return fmt.Errorf("failed to accept %v: %w", built.TxHash(), err)
	}

	logger.Infof("Accepted tx %v spending %d inputs", built.TxHash(), len(outpoints))
	return nil
}

// PlanAndAccept plans and accepts under one lock.
func (p *Planner) PlanAndAccept(req SpendRequest) (*BuiltTransaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	built, err := p.plan(req)
	if err != nil {
		return nil, err
	}
	if err := p.accept(built); err != nil {
		return nil, err
	}
	return built, nil
}
