package shadow

import (
	"fmt"
	"math"
)

// Method is the pluggable per-zone price update policy.
type Method interface {
	// Name identifies the method in configuration.
	Name() string

	// Update returns the next price for a zone given the current price,
	// the target total, the modeled total and the damping factor.
	Update(price, target, modeled, damping float64) float64
}

// ctrampMethod applies a damped multiplicative correction in log space:
// when a zone attracts more than its target, its price drops.
type ctrampMethod struct{}

func (ctrampMethod) Name() string { return "ctramp" }

func (ctrampMethod) Update(price, target, modeled, damping float64) float64 {
	return price + damping*math.Log((target+1)/(modeled+1))
}

// daysimMethod applies a damped additive correction proportional to the
// relative shortfall.
type daysimMethod struct{}

func (daysimMethod) Name() string { return "daysim" }

func (daysimMethod) Update(price, target, modeled, damping float64) float64 {
	denominator := target
	if denominator < 1 {
		denominator = 1
	}
	return price + damping*(target-modeled)/denominator
}

var methods = map[string]Method{
	"ctramp": ctrampMethod{},
	"daysim": daysimMethod{},
}

// MethodByName resolves a configured method name.
func MethodByName(name string) (Method, error) {
	method, ok := methods[name]
	if !ok {
		return nil, fmt.Errorf("unknown shadow price method %q", name)
	}
	return method, nil
}

// RegisterMethod adds a custom update policy. Registering over an existing
// name replaces it.
func RegisterMethod(method Method) {
	methods[method.Name()] = method
}
