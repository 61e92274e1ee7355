package browser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
)

// ChainSeparator joins selector parts; each part is evaluated relative to the
// elements matched by the previous one.
const ChainSeparator = ">>"

// Part is one link of a selector chain: either a CSS selector or an index pick.
type Part struct {
	CSS string `json:"css,omitempty"`
	Nth *int   `json:"nth,omitempty"` // negative counts from the end
}

func (p Part) String() string {
	if p.Nth != nil {
		return fmt.Sprintf("nth=%d", *p.Nth)
	}
	return p.CSS
}

// Selector is a parsed selector chain such as ".feature-card >> nth=1 >> .feature-title".
type Selector struct {
	Parts []Part
	raw   string
}

// ParseSelector parses and validates a selector chain. CSS parts are compiled
// up front so a typo surfaces as a scenario error instead of a silent zero count.
func ParseSelector(raw string) (Selector, error) {
	if strings.TrimSpace(raw) == "" {
		return Selector{}, fmt.Errorf("empty selector")
	}
	var parts []Part
	for _, chunk := range strings.Split(raw, ChainSeparator) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			return Selector{}, fmt.Errorf("selector %q has an empty part", raw)
		}
		if strings.HasPrefix(chunk, "nth=") {
			n, err := strconv.Atoi(strings.TrimPrefix(chunk, "nth="))
			if err != nil {
				return Selector{}, fmt.Errorf("selector %q: invalid nth index: %w", raw, err)
			}
			parts = append(parts, Part{Nth: &n})
			continue
		}
		css := strings.TrimPrefix(chunk, "css=")
		if _, err := cascadia.Compile(css); err != nil {
			return Selector{}, fmt.Errorf("selector %q: invalid css %q: %w", raw, css, err)
		}
		parts = append(parts, Part{CSS: css})
	}
	return Selector{Parts: parts, raw: raw}, nil
}

// MustParseSelector is ParseSelector for selectors known to be valid.
func MustParseSelector(raw string) Selector {
	s, err := ParseSelector(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Child returns the chain extended by another selector.
func (s Selector) Child(other Selector) Selector {
	parts := make([]Part, 0, len(s.Parts)+len(other.Parts))
	parts = append(parts, s.Parts...)
	parts = append(parts, other.Parts...)
	return Selector{Parts: parts, raw: s.String() + " " + ChainSeparator + " " + other.String()}
}

// Nth returns the chain narrowed to the element at index n.
func (s Selector) Nth(n int) Selector {
	parts := make([]Part, 0, len(s.Parts)+1)
	parts = append(parts, s.Parts...)
	parts = append(parts, Part{Nth: &n})
	return Selector{Parts: parts, raw: fmt.Sprintf("%s %s nth=%d", s.String(), ChainSeparator, n)}
}

func (s Selector) String() string {
	if s.raw != "" {
		return s.raw
	}
	strs := make([]string, len(s.Parts))
	for i, p := range s.Parts {
		strs[i] = p.String()
	}
	return strings.Join(strs, " "+ChainSeparator+" ")
}

// JSON renders the chain for evaluation inside a page.
func (s Selector) JSON() string {
	b, _ := json.Marshal(s.Parts)
	return string(b)
}

// PickNth resolves an nth index against a match count, returning -1 if out of range.
func PickNth(n, count int) int {
	if n < 0 {
		n = count + n
	}
	if n < 0 || n >= count {
		return -1
	}
	return n
}
