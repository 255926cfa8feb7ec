package chat

import "strings"

// Filter rewrites message text before it is stored and fanned out.
// Implementations must be safe for concurrent use.
type Filter interface {
	Clean(text string) string
}

// MaskFilter replaces banned words with asterisks, case-insensitively.
type MaskFilter struct {
	banned []string
}

// NewMaskFilter builds a filter over the given word list.
func NewMaskFilter(words []string) *MaskFilter {
	lowered := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			lowered = append(lowered, w)
		}
	}
	return &MaskFilter{banned: lowered}
}

// defaultBanned seeds the out-of-the-box filter. Deployments extend it
// through NewMaskFilter.
var defaultBanned = []string{"damn", "hell", "crap", "idiot", "stupid"}

// DefaultFilter returns the stock masking filter.
func DefaultFilter() *MaskFilter {
	return NewMaskFilter(defaultBanned)
}

// Clean masks each banned word wherever it appears.
func (f *MaskFilter) Clean(text string) string {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		// Lowering shifted byte offsets; match case-sensitively instead.
		lower = text
	}
	var out []byte

	for _, word := range f.banned {
		start := 0
		for {
			idx := strings.Index(lower[start:], word)
			if idx < 0 {
				break
			}
			idx += start
			if out == nil {
				out = []byte(text)
			}
			for i := idx; i < idx+len(word); i++ {
				out[i] = '*'
			}
			start = idx + len(word)
		}
	}

	if out == nil {
		return text
	}
	return string(out)
}
