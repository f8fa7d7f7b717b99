package elca

import (
	"errors"
	"fmt"
)

// ErrRuleOutOfRange is returned by ParseRule for ids outside [0,255].
var ErrRuleOutOfRange = errors.New("elca: rule id out of range [0,255]")

// Rule is the Wolfram code of an elementary cellular automaton: an 8-bit
// integer whose bit i gives the next state for the 3-bit neighborhood i.
// Rules are replaced wholesale, never mutated.
type Rule uint8

// RuleTable is the transition table derived from a rule. Entry i holds the
// next cell state for the neighborhood (left<<2)|(center<<1)|right == i.
type RuleTable [8]uint8

// Table derives the rule's transition table. The derivation is pure and
// total; there is no caching layer because the full domain is 256 rules.
func (r Rule) Table() RuleTable {
	var t RuleTable
	for i := 0; i < 8; i++ {
		t[i] = uint8(r>>i) & 1
	}
	return t
}

// FromTable reconstructs the rule encoded by a transition table.
// Only the low bit of each entry is significant.
func FromTable(t RuleTable) Rule {
	var r Rule
	for i := 0; i < 8; i++ {
		r |= Rule(t[i]&1) << i
	}
	return r
}

// ParseRule validates a host-supplied integer rule id.
func ParseRule(id int) (Rule, error) {
	if id < 0 || id > 255 {
		return 0, fmt.Errorf("%w: %d", ErrRuleOutOfRange, id)
	}
	return Rule(id), nil
}

// String returns the conventional rule name, e.g. "rule 110".
func (r Rule) String() string {
	return fmt.Sprintf("rule %d", uint8(r))
}
