package loadtest

import (
	"fmt"
	"math/rand"
	"net/http"
)

// ActionKind identifies how an action's response is classified.
type ActionKind int

const (
	// KindWithdraw is a POST withdrawal attempt against one of the
	// lock-strategy endpoints.
	KindWithdraw ActionKind = iota
	// KindBalance is a GET balance check.
	KindBalance
	// KindHealth is a GET health check.
	KindHealth
)

func (k ActionKind) String() string {
	switch k {
	case KindWithdraw:
		return "withdraw"
	case KindBalance:
		return "balance"
	case KindHealth:
		return "health"
	default:
		return "unknown"
	}
}

// Action describes one endpoint a session can hit: its path, the
// display name used for reporting, and its relative selection weight.
// Actions are static configuration and never mutated at runtime.
type Action struct {
	Name   string
	Path   string
	Method string
	Weight int
	Kind   ActionKind
}

// DefaultActions returns the benchmark's action table: the five
// withdrawal lock strategies at equal high weight, balance and health
// checks at equal low weight.
func DefaultActions() []Action {
	return []Action{
		{Name: "withdraw_watch", Path: "/withdraw_watch", Method: http.MethodPost, Weight: 5, Kind: KindWithdraw},
		{Name: "withdraw_lock_lua", Path: "/withdraw_lock_lua", Method: http.MethodPost, Weight: 5, Kind: KindWithdraw},
		{Name: "withdraw_custom_token_lock", Path: "/withdraw_custom_token_lock", Method: http.MethodPost, Weight: 5, Kind: KindWithdraw},
		{Name: "withdraw_custom_lock", Path: "/withdraw_custom_lock", Method: http.MethodPost, Weight: 5, Kind: KindWithdraw},
		{Name: "withdraw_medallion_distributed_lock", Path: "/withdraw_medallion_distributed_lock", Method: http.MethodPost, Weight: 5, Kind: KindWithdraw},
		{Name: "balance", Path: "/balance", Method: http.MethodGet, Weight: 1, Kind: KindBalance},
		{Name: "health", Path: "/health", Method: http.MethodGet, Weight: 1, Kind: KindHealth},
	}
}

// Outcome is the pass/fail classification of one request-response
// cycle. Reason is empty for successes.
type Outcome struct {
	Success bool
	Reason  string
}

// ClassifyWithdraw classifies a withdrawal response by status code
// alone. A 200 is always a success regardless of the JSON body; the
// body's status field is parsed elsewhere as instrumentation but never
// changes the classification.
func ClassifyWithdraw(statusCode int) Outcome {
	if statusCode == http.StatusOK {
		return Outcome{Success: true}
	}
	return Outcome{Reason: httpReason(statusCode)}
}

// ClassifyBalance classifies a balance-check response. Both 200 and
// 404 count as success: a missing account is a valid answer.
func ClassifyBalance(statusCode int) Outcome {
	if statusCode == http.StatusOK || statusCode == http.StatusNotFound {
		return Outcome{Success: true}
	}
	return Outcome{Reason: httpReason(statusCode)}
}

// ClassifyHealth classifies a health-check response: only 200 passes.
func ClassifyHealth(statusCode int) Outcome {
	if statusCode == http.StatusOK {
		return Outcome{Success: true}
	}
	return Outcome{Reason: httpReason(statusCode)}
}

func httpReason(statusCode int) string {
	return fmt.Sprintf("HTTP %d", statusCode)
}

// WithdrawAmount computes the amount for one withdrawal request: the
// base amount perturbed by a uniform random offset in [-jitter, jitter]
// and floored at 1. With jitter 0 the result is always base.
func WithdrawAmount(rng *rand.Rand, base, jitter int) int {
	amount := base
	if jitter > 0 {
		amount += rng.Intn(2*jitter+1) - jitter
	}
	if amount < 1 {
		amount = 1
	}
	return amount
}

// weightedPicker selects actions from a fixed discrete distribution
// proportional to their weights.
type weightedPicker struct {
	actions    []Action
	cumulative []int
	total      int
}

func newWeightedPicker(actions []Action) (*weightedPicker, error) {
	if len(actions) == 0 {
		return nil, fmt.Errorf("no actions configured")
	}

	p := &weightedPicker{
		actions:    actions,
		cumulative: make([]int, len(actions)),
	}
	for i, a := range actions {
		if a.Weight <= 0 {
			return nil, fmt.Errorf("action %q: weight must be > 0, got %d", a.Name, a.Weight)
		}
		p.total += a.Weight
		p.cumulative[i] = p.total
	}
	return p, nil
}

// Pick returns one action drawn from the weighted distribution.
func (p *weightedPicker) Pick(rng *rand.Rand) Action {
	n := rng.Intn(p.total)
	for i, c := range p.cumulative {
		if n < c {
			return p.actions[i]
		}
	}
	// Unreachable: n < p.total and the last cumulative entry is p.total.
	return p.actions[len(p.actions)-1]
}
