package strategy

import (
	"sort"
	"strings"
)

// consensusThreshold is the minimum weighted score one side must exceed
// before the ensemble commits to a direction.
const consensusThreshold = 0.6

// Ensemble combines member strategies by weighted vote. Weights are
// normalized at construction, so callers can pass any positive mix. A
// direction wins only when its score strictly exceeds both the threshold
// and the opposing score; a tie produces no signal.
type Ensemble struct {
	members []Strategy
	weights []float64
}

func NewEnsemble(members []Strategy, weights []float64) *Ensemble {
	if len(weights) != len(members) {
		weights = make([]float64, len(members))
		for i := range weights {
			weights[i] = 1
		}
	}
	total := 0.0
	for _, w := range weights {
		total += w
	}
	normalized := make([]float64, len(weights))
	if total > 0 {
		for i, w := range weights {
			normalized[i] = w / total
		}
	}
	return &Ensemble{members: members, weights: normalized}
}

func (e *Ensemble) Name() string { return "Ensemble" }

// vote accumulates per-symbol scores while a round of member signals is
// collected.
type vote struct {
	buyScore   float64
	sellScore  float64
	price      float64
	volatility float64
	backers    map[Action][]string
}

func (e *Ensemble) Signals(symbols []string) (map[string]Signal, error) {
	votes := make(map[string]*vote)
	for i, member := range e.members {
		memberSignals, err := member.Signals(symbols)
		if err != nil {
			return nil, err
		}
		weight := e.weights[i]
		for sym, sig := range memberSignals {
			v, ok := votes[sym]
			if !ok {
				v = &vote{
					price:      sig.Price,
					volatility: sig.Volatility,
					backers:    make(map[Action][]string),
				}
				votes[sym] = v
			}
			switch sig.Action {
			case ActionBuy:
				v.buyScore += weight
			case ActionSell:
				v.sellScore += weight
			}
			v.backers[sig.Action] = append(v.backers[sig.Action], member.Name())
		}
	}

	signals := make(map[string]Signal)
	for sym, v := range votes {
		var action Action
		var score float64
		switch {
		case v.buyScore > consensusThreshold && v.buyScore > v.sellScore:
			action, score = ActionBuy, v.buyScore
		case v.sellScore > consensusThreshold && v.sellScore > v.buyScore:
			action, score = ActionSell, v.sellScore
		default:
			continue
		}
		backers := append([]string(nil), v.backers[action]...)
		sort.Strings(backers)
		signals[sym] = Signal{
			Action:     action,
			Price:      v.price,
			Volatility: v.volatility,
			Confidence: score,
			Reason:     strings.Join(backers, ", "),
		}
	}
	return signals, nil
}
