package game

import (
	"errors"
	"fmt"
)

// DecisionKind tags a Decision.
type DecisionKind string

const (
	DecisionDefend          DecisionKind = "defend"
	DecisionAttack          DecisionKind = "attack"
	DecisionProposeAlliance DecisionKind = "propose_alliance"
	DecisionAcceptAlliance  DecisionKind = "accept_alliance"
	DecisionBetrayAlliance  DecisionKind = "betray_alliance"
)

// Decision is one participant's chosen action for a turn. Only the fields
// relevant to Kind are populated.
type Decision struct {
	Kind       DecisionKind   `json:"action"`
	Target     string         `json:"target,omitempty"`
	Terms      map[string]int `json:"terms,omitempty"`
	Proposer   string         `json:"proposer,omitempty"`
	AllianceID string         `json:"allianceId,omitempty"`
}

// Defend builds a defend decision.
func Defend() Decision { return Decision{Kind: DecisionDefend} }

// Attack builds an attack on target.
func Attack(target string) Decision { return Decision{Kind: DecisionAttack, Target: target} }

// ProposeAlliance builds a proposal. Terms may be nil for an even split.
func ProposeAlliance(target string, terms map[string]int) Decision {
	return Decision{Kind: DecisionProposeAlliance, Target: target, Terms: terms}
}

// AcceptAlliance accepts the pending proposal from proposer.
func AcceptAlliance(proposer string) Decision {
	return Decision{Kind: DecisionAcceptAlliance, Proposer: proposer}
}

// BetrayAlliance dissolves allianceID and attacks target.
func BetrayAlliance(allianceID, target string) Decision {
	return Decision{Kind: DecisionBetrayAlliance, AllianceID: allianceID, Target: target}
}

var errInvalidDecision = errors.New("invalid decision")

// validate checks a decision against the participant roster. Resolution-time
// conditions (dead targets, missing proposals) are not errors.
func (d Decision) validate(self string, roster map[string]bool) error {
	knownOther := func(id string) error {
		if id == "" {
			return fmt.Errorf("%w: %s without target", errInvalidDecision, d.Kind)
		}
		if id == self {
			return fmt.Errorf("%w: %s targets self", errInvalidDecision, d.Kind)
		}
		if !roster[id] {
			return fmt.Errorf("%w: unknown participant %s", errInvalidDecision, id)
		}
		return nil
	}

	switch d.Kind {
	case DecisionDefend:
		return nil
	case DecisionAttack, DecisionProposeAlliance:
		return knownOther(d.Target)
	case DecisionAcceptAlliance:
		return knownOther(d.Proposer)
	case DecisionBetrayAlliance:
		if d.AllianceID == "" {
			return fmt.Errorf("%w: betrayal without alliance", errInvalidDecision)
		}
		return knownOther(d.Target)
	case "":
		return fmt.Errorf("%w: missing action", errInvalidDecision)
	default:
		return fmt.Errorf("%w: unknown action %q", errInvalidDecision, d.Kind)
	}
}

func (d Decision) clone() Decision {
	c := d
	if d.Terms != nil {
		c.Terms = make(map[string]int, len(d.Terms))
		for k, v := range d.Terms {
			c.Terms[k] = v
		}
	}
	return c
}
