package game

// PayoutReason explains why an amount was paid.
type PayoutReason string

const (
	PayoutWinner         PayoutReason = "winner"
	PayoutAllianceShare  PayoutReason = "alliance_share"
	PayoutRedistribution PayoutReason = "redistribution"
)

// Payout is one settlement line.
type Payout struct {
	AgentID string       `json:"agentId"`
	Amount  int64        `json:"amount"`
	Reason  PayoutReason `json:"reason"`
}

// PrizeDistributor settles the prize pool at match completion. Amounts are
// opaque integers; floor-division remainders are not paid to anyone.
type PrizeDistributor struct {
	ExternalCutPercent int
}

// Distribute returns the payouts for winnerID. An empty winner (draw) or an
// empty pool yields nothing. Zero-value lines are omitted.
func (d PrizeDistributor) Distribute(m *Match, winnerID string) []Payout {
	if winnerID == "" || m.PrizePool <= 0 {
		return nil
	}

	var allocations []Payout
	if alliance, ok := m.Alliances.AllianceOf(winnerID); ok {
		for _, member := range alliance.Members {
			amount := m.PrizePool * int64(alliance.Shares[member]) / 100
			allocations = append(allocations, Payout{AgentID: member, Amount: amount, Reason: PayoutAllianceShare})
		}
	} else {
		allocations = append(allocations, Payout{AgentID: winnerID, Amount: m.PrizePool, Reason: PayoutWinner})
	}

	var fund int64
	for i := range allocations {
		a := m.Agent(allocations[i].AgentID)
		if a == nil || !a.External {
			continue
		}
		cut := allocations[i].Amount * int64(d.ExternalCutPercent) / 100
		allocations[i].Amount -= cut
		fund += cut
	}

	payouts := make([]Payout, 0, len(allocations)+len(m.Agents))
	for _, p := range allocations {
		if p.Amount > 0 {
			payouts = append(payouts, p)
		}
	}

	if fund == 0 {
		return payouts
	}
	var eligible []string
	for _, a := range m.Agents {
		if !a.External && a.ID != winnerID {
			eligible = append(eligible, a.ID)
		}
	}
	if len(eligible) == 0 {
		return payouts
	}
	each := fund / int64(len(eligible))
	if each == 0 {
		return payouts
	}
	for _, id := range eligible {
		payouts = append(payouts, Payout{AgentID: id, Amount: each, Reason: PayoutRedistribution})
	}
	return payouts
}

// TotalPaid sums payout amounts.
func TotalPaid(payouts []Payout) int64 {
	var total int64
	for _, p := range payouts {
		total += p.Amount
	}
	return total
}
