package orchestrator

import "errors"

// ErrCombinationEmpty is recorded when every producer came back empty.
// It selects the placeholder tier and is never returned to callers.
var ErrCombinationEmpty = errors.New("all backends failed and local transcript is empty")

// producer yields a candidate text for one tier
type producer struct {
	tier    Tier
	source  string
	produce func() (string, bool)
}

// selection is the text picked by a ranked producer list
type selection struct {
	text   string
	tier   Tier
	source string
	err    error
}

// firstProduced walks the producers in rank order and returns the first
// non-empty text, or the placeholder
func firstProduced(producers ...producer) selection {
	for _, p := range producers {
		if text, ok := p.produce(); ok && text != "" {
			return selection{text: text, tier: p.tier, source: p.source}
		}
	}
	return selection{text: PlaceholderText, tier: TierPlaceholder, err: ErrCombinationEmpty}
}

func fixed(text string) func() (string, bool) {
	return func() (string, bool) { return text, text != "" }
}
