package reconciliation

import (
	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
)

// Transaction is one side of a comparison, keyed by the gateway reference.
type Transaction struct {
	Reference string
	Amount    int64
	Currency  string
	Fee       int64
}

type Outcome struct {
	Matched           []Transaction
	Discrepancies     []reconmodel.Discrepancy
	ReconciledAmount  int64
	DiscrepancyAmount int64
	// MatchedFees sums the gateway-reported fee of every matched transaction.
	MatchedFees int64
}

func (o Outcome) Status() reconmodel.Status {
	if len(o.Discrepancies) > 0 {
		return reconmodel.StatusDiscrepanciesFound
	}
	return reconmodel.StatusReconciled
}

// Match compares the internal set against the gateway set. Internal
// transactions are walked in order, then unconsumed gateway transactions in
// theirs, so the discrepancy list is deterministic for a given input.
// A reference repeated on the gateway side is consumed once per internal
// occurrence; leftovers are reported as extra payments.
func Match(internal, gateway []Transaction) Outcome {
	index := make(map[string][]int, len(gateway))
	for i, g := range gateway {
		index[g.Reference] = append(index[g.Reference], i)
	}
	consumed := make([]bool, len(gateway))

	var out Outcome
	for _, in := range internal {
		candidates := index[in.Reference]
		if len(candidates) == 0 {
			out.add(discrepancy(reconmodel.DiscrepancyMissingPayment, &in.Reference, nil, in.Amount, 0, in.Currency))
			continue
		}

		gi := candidates[0]
		index[in.Reference] = candidates[1:]
		consumed[gi] = true
		g := gateway[gi]

		if g.Amount == in.Amount {
			out.Matched = append(out.Matched, in)
			out.ReconciledAmount += in.Amount
			out.MatchedFees += g.Fee
			continue
		}
		out.add(discrepancy(reconmodel.DiscrepancyAmountMismatch, &in.Reference, &g.Reference, in.Amount, g.Amount, in.Currency))
	}

	for i, g := range gateway {
		if consumed[i] {
			continue
		}
		out.add(discrepancy(reconmodel.DiscrepancyExtraPayment, nil, &g.Reference, 0, g.Amount, g.Currency))
	}

	return out
}

func (o *Outcome) add(d reconmodel.Discrepancy) {
	o.Discrepancies = append(o.Discrepancies, d)
	o.DiscrepancyAmount += abs(d.Difference)
}

func discrepancy(t reconmodel.DiscrepancyType, internalRef, gatewayRef *string, expected, actual int64, currency string) reconmodel.Discrepancy {
	d := reconmodel.Discrepancy{
		Type:           t,
		ExpectedAmount: expected,
		ActualAmount:   actual,
		Difference:     actual - expected,
		Currency:       currency,
	}
	if internalRef != nil {
		ref := *internalRef
		d.InternalTransactionID = &ref
	}
	if gatewayRef != nil {
		ref := *gatewayRef
		d.GatewayTransactionID = &ref
	}
	return d
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
