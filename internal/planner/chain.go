// Package planner implements the scale-chain decomposition and tiling-grid
// computation described by the model registry's consumers: given a target
// scale, produce the ordered per-stage scale factors and the tile geometry
// that keeps every stage within the provider's GPU pixel budget.
package planner

import (
	"fmt"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
)

// ValidScales is the closed set of integer scales this system accepts.
var ValidScales = []int{2, 4, 8, 10, 12, 16, 20, 24}

// MaxSupportedScale is the sole authoritative ceiling. An earlier iteration
// of this system enforced several different ceilings (8, 10, 16, 32) across
// different code paths; this implementation recognizes only this one.
const MaxSupportedScale = 24

// ValidationError carries a structured, client-actionable rejection for a
// planning failure (e.g. an out-of-range scale or an oversized tile count).
type ValidationError struct {
	Message     string
	ValidScales []int
	Suggestions []string
}

func (e *ValidationError) Error() string { return e.Message }

func newValidationError(msg string, suggestions ...string) *ValidationError {
	return &ValidationError{Message: msg, ValidScales: ValidScales, Suggestions: suggestions}
}

// IsValidScale reports whether s is one of the closed-set integer scales.
func IsValidScale(s int) bool {
	for _, v := range ValidScales {
		if v == s {
			return true
		}
	}
	return false
}

// artDecompositions and standardDecompositions are the fixed chain-strategy
// tables from the scale-chain planner's resolution rules. Every art entry
// leads with a 4x stage; the standard table leads with the smaller factor
// for 10x and 12x ([2,5], [3,4]) and with 4x from 16x up.
var artDecompositions = map[int][]int{
	8:  {4, 2},
	12: {4, 3},
	16: {4, 4},
	20: {4, 5},
	24: {4, 6},
}

var standardDecompositions = map[int][]int{
	10: {2, 5},
	12: {3, 4},
	16: {4, 4},
	20: {4, 5},
	24: {4, 6},
}

// PlanChain decomposes an effective target scale into an ordered list of
// per-stage scale factors. Chains are capped at two stages by design (see
// design note: three-or-more-stage chains are out of scope); every table
// entry above already respects the per-stage caps (<=10 for the photo
// model, <=4 when the leading stage uses the specialized art model).
func PlanChain(target int, category upscale.Category) ([]int, error) {
	if !IsValidScale(target) {
		if target > MaxSupportedScale {
			return nil, newValidationError(
				fmt.Sprintf("requested scale %d exceeds the maximum supported scale of %d", target, MaxSupportedScale),
				"reduce scale", "resize input",
			)
		}
		return nil, newValidationError(fmt.Sprintf("scale %d is not one of the supported values", target))
	}

	table := standardDecompositions
	isArt := category == upscale.CategoryArt || category == upscale.CategoryText
	if isArt {
		table = artDecompositions
	}

	if target <= 8 {
		if isArt {
			if stages, ok := table[target]; ok {
				out := make([]int, len(stages))
				copy(out, stages)
				return out, nil
			}
		}
		return []int{target}, nil
	}

	stages, ok := table[target]
	if !ok {
		return nil, newValidationError(fmt.Sprintf("no chain decomposition registered for scale %d", target))
	}
	out := make([]int, len(stages))
	copy(out, stages)
	return out, nil
}

// ProductOfStages multiplies a chain strategy's stage scales, used to
// assert invariant 7 (product of stage scales equals effective target).
func ProductOfStages(stages []int) int {
	p := 1
	for _, s := range stages {
		p *= s
	}
	return p
}
