// Package units resolves unit names to scale factors relative to the
// corresponding SI base unit. Factors are composed with exact decimal
// arithmetic and converted to float64 once at lookup, so derived units like
// square feet never accumulate binary rounding from their definition.
package units

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Registry maps unit names to scale factors. The zero value is unusable;
// construct with Default or NewRegistry.
type Registry struct {
	factors map[string]decimal.Decimal
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factors: make(map[string]decimal.Decimal)}
}

// Default returns a registry preloaded with the common structural
// engineering units.
func Default() *Registry {
	r := NewRegistry()

	one := decimal.NewFromInt(1)
	inch := decimal.RequireFromString("0.0254")
	ft := decimal.RequireFromString("0.3048")
	lbf := decimal.RequireFromString("4.4482216152605")
	grav := decimal.RequireFromString("9.80665") // standard gravity, m/s2
	day := decimal.NewFromInt(86400)

	base := map[string]decimal.Decimal{
		// length
		"m":    one,
		"mm":   decimal.RequireFromString("0.001"),
		"cm":   decimal.RequireFromString("0.01"),
		"km":   decimal.NewFromInt(1000),
		"in":   inch,
		"inch": inch,
		"ft":   ft,
		"LF":   ft, // linear foot

		// area
		"m2": one,
		"SF": ft.Mul(ft), // square foot

		// acceleration
		"mps2":  one,
		"inps2": inch,
		"ftps2": ft,
		"g":     grav,

		// force
		"N":   one,
		"kN":  decimal.NewFromInt(1000),
		"lb":  lbf,
		"kip": lbf.Mul(decimal.NewFromInt(1000)),

		// time
		"sec":  one,
		"min":  decimal.NewFromInt(60),
		"hr":   decimal.NewFromInt(3600),
		"day":  day,
		"week": day.Mul(decimal.NewFromInt(7)),

		// velocity
		"mps":  one,
		"inps": inch,
		"ftps": ft,
		"mph":  decimal.RequireFromString("0.44704"),

		// dimensionless quantities
		"unitless":   one,
		"rad":        one,
		"ea":         one,
		"loss_ratio": one,

		// monetary amounts carry no physical scaling
		"USD":      one,
		"USD_2011": one,

		// worker-days for repair time
		"worker_day": one,
	}
	for name, factor := range base {
		r.factors[name] = factor
	}
	return r
}

// Define registers a unit. Redefining an existing name is a configuration
// error.
func (r *Registry) Define(name string, factor float64) error {
	if name == "" {
		return fmt.Errorf("unit name must not be empty")
	}
	if _, ok := r.factors[name]; ok {
		return fmt.Errorf("unit %s is already defined", name)
	}
	if !(factor > 0) {
		return fmt.Errorf("unit %s requires a positive scale factor, got %v", name, factor)
	}
	r.factors[name] = decimal.NewFromFloat(factor)
	return nil
}

// Scale returns the factor that converts a value in the named unit to base
// units. An unrecognized unit name is a configuration error.
func (r *Registry) Scale(name string) (float64, error) {
	f, ok := r.factors[name]
	if !ok {
		return 0, fmt.Errorf("unrecognized unit name: %q", name)
	}
	v, _ := f.Float64()
	return v, nil
}

// Ratio returns fromUnit/toUnit, the factor converting between two units of
// the same kind.
func (r *Registry) Ratio(fromUnit, toUnit string) (float64, error) {
	from, ok := r.factors[fromUnit]
	if !ok {
		return 0, fmt.Errorf("unrecognized unit name: %q", fromUnit)
	}
	to, ok := r.factors[toUnit]
	if !ok {
		return 0, fmt.Errorf("unrecognized unit name: %q", toUnit)
	}
	v, _ := from.Div(to).Float64()
	return v, nil
}
