package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FamilyFunction marks a damage-function component: instead of discrete
// limit-state capacities, the damaged quantity is a continuous function of
// the demand magnitude.
const FamilyFunction = "function"

// LimitState describes one ordered capacity threshold of a component.
type LimitState struct {
	// Family is the capacity distribution family; empty means the capacity
	// is the deterministic point Theta0. FamilyFunction switches the
	// component into damage-function mode.
	Family string
	Theta0 float64
	Theta1 float64

	// Function is the parsed damage function when Family is FamilyFunction.
	Function *DamageFunction

	// DSWeights holds the mutually exclusive damage-state weights when this
	// limit state maps to more than one damage state; nil means a single
	// damage state.
	DSWeights []float64
}

// DamageParams holds the damage model of one component type.
type DamageParams struct {
	Cmp string

	// Demand identification.
	DemandType  string
	DemandOffset int
	Directional bool

	// Units used to rescale damaged quantities in damage-function mode.
	ComponentUnit string
	DamageUnit    string

	// LimitStates are ordered LS1..LSk. Entries with no family and NaN
	// Theta0 are undefined and skipped.
	LimitStates []LimitState
}

// UsesDamageFunctions reports whether any limit state of this component is
// expressed as a damage function.
func (p DamageParams) UsesDamageFunctions() bool {
	for _, ls := range p.LimitStates {
		if ls.Family == FamilyFunction {
			return true
		}
	}
	return false
}

// DefinedLimitStates returns the indices (0-based) of limit states that
// carry a definition.
func (p DamageParams) DefinedLimitStates() []int {
	var out []int
	for i, ls := range p.LimitStates {
		if ls.Family != "" || !math.IsNaN(ls.Theta0) {
			out = append(out, i)
		}
	}
	return out
}

// DamageFunction is a parsed linear combination of demand powers,
// sum of Coef * D^Exp terms, where D is the scaled demand.
type DamageFunction struct {
	Terms []DamageFunctionTerm
}

type DamageFunctionTerm struct {
	Coef float64
	Exp  float64
}

// Eval computes the damage rate for one demand value.
func (f *DamageFunction) Eval(d float64) float64 {
	total := 0.0
	for _, t := range f.Terms {
		total += t.Coef * math.Pow(d, t.Exp)
	}
	return total
}

// ParseDamageFunction parses a damage-function signature such as
// "(0.3)*D^(2)+(0.1)*D". Constants may be parenthesized; "D" denotes the
// demand. Each additive element is a product of a coefficient and an
// optional power of D.
func ParseDamageFunction(s string) (*DamageFunction, error) {
	cleaned := strings.ReplaceAll(s, " ", "")
	if cleaned == "" {
		return nil, fmt.Errorf("empty damage function signature")
	}
	fn := &DamageFunction{}
	for _, add := range strings.Split(cleaned, "+") {
		term := DamageFunctionTerm{Coef: 1, Exp: 0}
		for _, factor := range strings.Split(add, "*") {
			base, exp, err := parseFactor(factor)
			if err != nil {
				return nil, fmt.Errorf("unparseable damage function %q: %w", s, err)
			}
			if base.isDemand {
				term.Exp += exp
			} else {
				term.Coef *= math.Pow(base.value, exp)
			}
		}
		fn.Terms = append(fn.Terms, term)
	}
	return fn, nil
}

type factorBase struct {
	isDemand bool
	value    float64
}

func parseFactor(s string) (factorBase, float64, error) {
	parts := strings.Split(s, "^")
	if len(parts) > 2 {
		return factorBase{}, 0, fmt.Errorf("factor %q has multiple exponents", s)
	}
	base, err := parseElem(parts[0])
	if err != nil {
		return factorBase{}, 0, err
	}
	exp := 1.0
	if len(parts) == 2 {
		e, err := parseElem(parts[1])
		if err != nil {
			return factorBase{}, 0, err
		}
		if e.isDemand {
			return factorBase{}, 0, fmt.Errorf("exponent in %q cannot be the demand", s)
		}
		exp = e.value
	}
	return base, exp, nil
}

func parseElem(s string) (factorBase, error) {
	if s == "D" {
		return factorBase{isDemand: true}, nil
	}
	v, err := strconv.ParseFloat(strings.Trim(s, "()"), 64)
	if err != nil {
		return factorBase{}, fmt.Errorf("element %q is neither D nor a number", s)
	}
	return factorBase{value: v}, nil
}
