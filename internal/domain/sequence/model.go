// Package sequence scores how natural a local-part string is under character
// n-gram models trained on legitimate and fraudulent addresses.
package sequence

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ErrInvalidModel is returned when a model document fails validation
var ErrInvalidModel = errors.New("invalid sequence model")

// Padding and end-of-sequence markers
const (
	StartSymbol = '^'
	EndSymbol   = '$'
)

// MaxOrder is the highest supported n-gram order
const MaxOrder = 3

// Class is the population a model was trained on
type Class string

const (
	ClassLegit Class = "legit"
	ClassFraud Class = "fraud"
)

// Key identifies one order/class model
type Key struct {
	Order int
	Class Class
}

// String returns the artifact kind for the key, e.g. "ngram_3_fraud"
func (k Key) String() string {
	return fmt.Sprintf("ngram_%d_%s", k.Order, k.Class)
}

// Keys lists all six order/class combinations
func Keys() []Key {
	keys := make([]Key, 0, MaxOrder*2)
	for order := 1; order <= MaxOrder; order++ {
		keys = append(keys, Key{Order: order, Class: ClassLegit}, Key{Order: order, Class: ClassFraud})
	}
	return keys
}

// Context holds next-symbol counts following one context string
type Context struct {
	Total float64            `json:"total"`
	Next  map[string]float64 `json:"next"`
}

// Model is a single add-alpha smoothed character n-gram table.
// Order n conditions on the previous n-1 symbols.
type Model struct {
	Version        string             `json:"version"`
	Order          int                `json:"order"`
	Class          Class              `json:"class"`
	Alpha          float64            `json:"alpha"`
	VocabularySize int                `json:"vocabularySize"`
	Contexts       map[string]Context `json:"contexts"`
}

// Decode parses and validates a sequence model document
func Decode(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the model shape and fills in missing context totals
func (m *Model) Validate() error {
	if m.Order < 1 || m.Order > MaxOrder {
		return fmt.Errorf("%w: order %d out of range", ErrInvalidModel, m.Order)
	}
	if m.Class != ClassLegit && m.Class != ClassFraud {
		return fmt.Errorf("%w: unknown class %q", ErrInvalidModel, m.Class)
	}
	if m.Alpha <= 0 || math.IsInf(m.Alpha, 0) || math.IsNaN(m.Alpha) {
		return fmt.Errorf("%w: alpha must be positive", ErrInvalidModel)
	}
	if m.VocabularySize < 1 {
		return fmt.Errorf("%w: vocabularySize must be positive", ErrInvalidModel)
	}

	for ctx, c := range m.Contexts {
		if utf8.RuneCountInString(ctx) != m.Order-1 {
			return fmt.Errorf("%w: context %q does not match order %d", ErrInvalidModel, ctx, m.Order)
		}
		var sum float64
		for sym, n := range c.Next {
			if utf8.RuneCountInString(sym) != 1 || n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
				return fmt.Errorf("%w: bad count for %q after %q", ErrInvalidModel, sym, ctx)
			}
			sum += n
		}
		if c.Total == 0 {
			c.Total = sum
			m.Contexts[ctx] = c
		}
		if c.Total < sum {
			return fmt.Errorf("%w: context %q total below its counts", ErrInvalidModel, ctx)
		}
	}
	return nil
}

// Probability returns the smoothed P(symbol | context)
func (m *Model) Probability(context string, symbol rune) float64 {
	v := float64(m.VocabularySize)
	c, ok := m.Contexts[context]
	if !ok {
		return 1 / v
	}
	return (c.Next[string(symbol)] + m.Alpha) / (c.Total + m.Alpha*v)
}

// CrossEntropy returns the average bits per symbol of s under the model.
// s is lower-cased, padded with n-1 start symbols and terminated by EndSymbol.
func (m *Model) CrossEntropy(s string) float64 {
	symbols := []rune(strings.ToLower(s))
	symbols = append(symbols, EndSymbol)

	window := make([]rune, 0, m.Order)
	for i := 0; i < m.Order-1; i++ {
		window = append(window, StartSymbol)
	}

	var bits float64
	for _, sym := range symbols {
		p := m.Probability(string(window), sym)
		bits -= math.Log2(p)
		if m.Order > 1 {
			window = append(window[1:], sym)
		}
	}
	return bits / float64(len(symbols))
}
