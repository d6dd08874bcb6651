package orchestrator

import (
	"fmt"
	"strings"
)

// Strategy names a speed/quality tradeoff
type Strategy string

const (
	StrategyTwoModel    Strategy = "two_model"
	StrategyChunkedFast Strategy = "chunked_fast"
	StrategySingleFast  Strategy = "single_fast"
	StrategyRealtime    Strategy = "realtime"
)

// legacyStrategies maps labels still sent by older clients
var legacyStrategies = map[string]Strategy{
	"2_model_parallel":   StrategyTwoModel,
	"ultra_fast_chunked": StrategyChunkedFast,
	"ultra_fast_v3":      StrategySingleFast,
	"ultra_fast":         StrategyChunkedFast,
}

// ParseStrategy parses a strategy label, accepting legacy names
func ParseStrategy(label string) (Strategy, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	switch s := Strategy(label); s {
	case StrategyTwoModel, StrategyChunkedFast, StrategySingleFast, StrategyRealtime:
		return s, nil
	}
	if s, ok := legacyStrategies[label]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown strategy %q", label)
}

// Tier identifies which fallback producer yielded the final text
type Tier string

const (
	TierLLMImprovement    Tier = "llm_improvement"
	TierGrammarCorrection Tier = "grammar_correction"
	TierLocalTranscript   Tier = "local_transcript"
	TierReassembledRaw    Tier = "reassembled_raw"
	TierFiltered          Tier = "filtered"
	TierPlaceholder       Tier = "placeholder"
)

// State is a step of the per-request state machine
type State string

const (
	StateIngested           State = "INGESTED"
	StateLocalTranscribed   State = "LOCAL_TRANSCRIBED"
	StateBackendsDispatched State = "BACKENDS_DISPATCHED"
	StateCombined           State = "COMBINED"
	StateDone               State = "DONE"
	StateFailedLocal        State = "FAILED_LOCAL"
)

var transitions = map[State][]State{
	StateIngested:           {StateLocalTranscribed, StateFailedLocal},
	StateLocalTranscribed:   {StateBackendsDispatched, StateCombined},
	StateBackendsDispatched: {StateCombined},
	StateCombined:           {StateDone},
}

// tracker records the states one request passes through
type tracker struct {
	states []State
}

func newTracker() *tracker {
	return &tracker{states: []State{StateIngested}}
}

func (t *tracker) current() State {
	return t.states[len(t.states)-1]
}

// advance moves to the next state. An illegal transition is a programming error.
func (t *tracker) advance(to State) {
	from := t.current()
	for _, allowed := range transitions[from] {
		if allowed == to {
			t.states = append(t.states, to)
			return
		}
	}
	panic(fmt.Sprintf("orchestrator: illegal state transition %s -> %s", from, to))
}

func (t *tracker) history() []State {
	out := make([]State, len(t.states))
	copy(out, t.states)
	return out
}
