package game

import (
	"sync"

	"github.com/google/uuid"
)

// Proposal is a pending alliance offer from one participant to another.
type Proposal struct {
	From  string         `json:"from"`
	To    string         `json:"to"`
	Terms map[string]int `json:"terms"`
	Turn  int            `json:"turn"`
}

// Alliance is a two-party pact. Shares always sum to 100.
type Alliance struct {
	ID         string         `json:"id"`
	Members    [2]string      `json:"members"`
	Shares     map[string]int `json:"shares"`
	FormedTurn int            `json:"formedTurn"`
}

// Has reports whether agentID is a member.
func (a Alliance) Has(agentID string) bool {
	return a.Members[0] == agentID || a.Members[1] == agentID
}

// Partner returns the other member.
func (a Alliance) Partner(agentID string) string {
	if a.Members[0] == agentID {
		return a.Members[1]
	}
	return a.Members[0]
}

func (a Alliance) clone() Alliance {
	c := a
	c.Shares = make(map[string]int, len(a.Shares))
	for k, v := range a.Shares {
		c.Shares[k] = v
	}
	return c
}

// AllianceLedger tracks pending proposals and active alliances for one match.
// Proposals are keyed by (from, to); a newer proposal for the same pair
// replaces the older one.
type AllianceLedger struct {
	mu        sync.RWMutex
	proposals []*Proposal
	alliances []*Alliance
}

// NewAllianceLedger creates an empty ledger.
func NewAllianceLedger() *AllianceLedger {
	return &AllianceLedger{}
}

// Propose queues an offer. Terms that do not name exactly the two parties
// with non-negative shares summing to 100 are replaced by an even split.
func (l *AllianceLedger) Propose(from, to string, terms map[string]int, turn int) Proposal {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := &Proposal{From: from, To: to, Terms: normalizeTerms(from, to, terms), Turn: turn}
	for i, existing := range l.proposals {
		if existing.From == from && existing.To == to {
			l.proposals[i] = p
			return *p
		}
	}
	l.proposals = append(l.proposals, p)
	return *p
}

// Accept consumes the proposal from proposer to accepter and forms an
// alliance. It returns false when no such proposal is pending.
func (l *AllianceLedger) Accept(accepter, proposer string, turn int) (Alliance, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, p := range l.proposals {
		if p.From != proposer || p.To != accepter {
			continue
		}
		l.proposals = append(l.proposals[:i], l.proposals[i+1:]...)

		a := &Alliance{
			ID:         uuid.NewString(),
			Members:    [2]string{proposer, accepter},
			Shares:     p.Terms,
			FormedTurn: turn,
		}
		l.alliances = append(l.alliances, a)
		return a.clone(), true
	}
	return Alliance{}, false
}

// Betray dissolves allianceID if betrayer is a member. Dissolving an
// alliance that no longer exists is a no-op.
func (l *AllianceLedger) Betray(allianceID, betrayer string) (Alliance, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, a := range l.alliances {
		if a.ID != allianceID {
			continue
		}
		if !a.Has(betrayer) {
			return Alliance{}, false
		}
		l.alliances = append(l.alliances[:i], l.alliances[i+1:]...)
		return a.clone(), true
	}
	return Alliance{}, false
}

// AllianceOf returns the earliest-formed active alliance containing agentID.
func (l *AllianceLedger) AllianceOf(agentID string) (Alliance, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, a := range l.alliances {
		if a.Has(agentID) {
			return a.clone(), true
		}
	}
	return Alliance{}, false
}

// Active returns copies of all active alliances in formation order.
func (l *AllianceLedger) Active() []Alliance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Alliance, 0, len(l.alliances))
	for _, a := range l.alliances {
		out = append(out, a.clone())
	}
	return out
}

// Pending returns copies of all pending proposals in queue order.
func (l *AllianceLedger) Pending() []Proposal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Proposal, 0, len(l.proposals))
	for _, p := range l.proposals {
		out = append(out, copyProposal(p))
	}
	return out
}

// ProposalsFor returns pending proposals addressed to agentID.
func (l *AllianceLedger) ProposalsFor(agentID string) []Proposal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Proposal
	for _, p := range l.proposals {
		if p.To == agentID {
			out = append(out, copyProposal(p))
		}
	}
	return out
}

// Clear drops every proposal and alliance; used when the match ends.
func (l *AllianceLedger) Clear() {
	l.mu.Lock()
	l.proposals = nil
	l.alliances = nil
	l.mu.Unlock()
}

func copyProposal(p *Proposal) Proposal {
	c := *p
	c.Terms = make(map[string]int, len(p.Terms))
	for k, v := range p.Terms {
		c.Terms[k] = v
	}
	return c
}

func normalizeTerms(from, to string, terms map[string]int) map[string]int {
	even := map[string]int{from: 50, to: 50}
	if len(terms) != 2 {
		return even
	}
	a, okA := terms[from]
	b, okB := terms[to]
	if !okA || !okB || a < 0 || b < 0 || a+b != 100 {
		return even
	}
	return map[string]int{from: a, to: b}
}
