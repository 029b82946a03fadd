package planner

import (
	"fmt"
	"math"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/registry"
)

const (
	// NativeSafeDim is the square side below which a single-stage chain can
	// bypass tiling entirely.
	NativeSafeDim = 1400

	// GPUPixelBudget is the provider's per-call input-pixel ceiling, the
	// "GPU pixel budget" of the glossary: ~2.1M px, a 1448-side square.
	GPUPixelBudget = 1448 * 1448

	// BaseOverlap is the default per-tile overlap, in pixels.
	BaseOverlap = 64
	// MinOverlap is the floor overlap applied to very high final scales.
	MinOverlap = 32
	// MinTileDim is the absolute floor for a computed tile dimension.
	MinTileDim = 64

	// MaxEffectiveTiles bounds the grid the safe-scale check will allow.
	MaxEffectiveTiles = 60
)

// Plan is the tiling planner's full output for a job.
type Plan struct {
	UsingTiling bool
	Grid        *upscale.TilingGrid
	Tiles       []upscale.Rect
	Templates   []upscale.StageTemplate
}

// SafeScaleCheck passes every target below MaxSupportedScale. For larger
// targets it counts the tiles needed at the given dimensions with a tile
// side of sqrt(GPUPixelBudget), and refuses a target of 28x or more whose
// count exceeds MaxEffectiveTiles with a structured error carrying
// suggestions. It does not compute a largest safe scale for the image.
func SafeScaleCheck(target, width, height int) error {
	if target < MaxSupportedScale {
		return nil
	}
	minDim := GPUPixelBudget
	side := int(math.Sqrt(float64(minDim)))
	tilesX := ceilDiv(width, side)
	tilesY := ceilDiv(height, side)
	if tilesX*tilesY > MaxEffectiveTiles && target >= 28 {
		return newValidationError(
			fmt.Sprintf("target scale %d on a %dx%d image would require an unsafe tile count", target, width, height),
			"reduce scale", "resize input",
		)
	}
	return nil
}

// PlanTiling decides whether a job should tile and, if so, computes the
// grid, the per-tile crop rectangles, and the per-stage template config,
// following the tiling planner's bypass/tiling/validation rules.
func PlanTiling(width, height int, chain []int, category upscale.Category, model registry.Model) (*Plan, error) {
	if width <= 0 || height <= 0 {
		return nil, newValidationError("image has non-positive dimensions")
	}

	if bypassesTiling(chain, width, height) {
		return &Plan{
			UsingTiling: false,
			Templates:   templatesForChain(chain, 0),
		}, nil
	}

	overlap := adaptiveOverlap(ProductOfStages(chain))
	s1 := chain[0]
	side := int(math.Sqrt(float64(GPUPixelBudget)))
	min := side / s1
	if min < MinTileDim {
		min = MinTileDim
	}

	tilesX := ceilDiv(width, min)
	tilesY := ceilDiv(height, min)
	if tilesX < 1 {
		tilesX = 1
	}
	if tilesY < 1 {
		tilesY = 1
	}

	nominalW := ceilDiv(width, tilesX)
	nominalH := ceilDiv(height, tilesY)
	clampMax := min - overlap
	if clampMax < MinTileDim {
		clampMax = MinTileDim
	}
	if nominalW > clampMax {
		nominalW = clampMax
	}
	if nominalH > clampMax {
		nominalH = clampMax
	}
	if nominalW <= 0 || nominalH <= 0 {
		return nil, newValidationError("computed tile dimensions are non-positive for this image and chain")
	}

	if nominalW*s1 > GPUPixelBudget || nominalH*s1 > GPUPixelBudget {
		return nil, newValidationError("stage-1 per-tile input would exceed the GPU pixel budget")
	}
	if len(chain) >= 2 {
		s2 := chain[1]
		stage1OutW := nominalW * s1
		stage1OutH := nominalH * s1
		if stage1OutW*s2 > GPUPixelBudget || stage1OutH*s2 > GPUPixelBudget {
			return nil, newValidationError("stage-2 per-tile input would exceed the GPU pixel budget")
		}
	}

	tiles := make([]upscale.Rect, 0, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x := tx * nominalW
			y := ty * nominalH
			w := nominalW
			h := nominalH
			if tx < tilesX-1 {
				w += overlap
			} else {
				w = width - x
			}
			if ty < tilesY-1 {
				h += overlap
			} else {
				h = height - y
			}
			if x+w > width {
				w = width - x
			}
			if y+h > height {
				h = height - y
			}
			tiles = append(tiles, upscale.Rect{X: x, Y: y, Width: w, Height: h})
		}
	}

	grid := &upscale.TilingGrid{
		TilesX:     tilesX,
		TilesY:     tilesY,
		TileWidth:  nominalW,
		TileHeight: nominalH,
		Overlap:    overlap,
		TotalTiles: tilesX * tilesY,
	}

	return &Plan{
		UsingTiling: true,
		Grid:        grid,
		Tiles:       tiles,
		Templates:   templatesForChain(chain, grid.TotalTiles),
	}, nil
}

// bypassesTiling implements the bypass rule: a single-stage chain at 2x
// (the only stage scale that never grows a tile's stage-1 output past the
// GPU budget on an already native-safe image), on an image that fits
// within the native-safe square. Every other single-stage scale (8x on a
// 1200x800 photo, for instance) still tiles.
func bypassesTiling(chain []int, width, height int) bool {
	if len(chain) != 1 || chain[0] > 2 {
		return false
	}
	return width <= NativeSafeDim && height <= NativeSafeDim
}

// adaptiveOverlap reduces the base overlap proportionally for final scales
// above 16x, down to a floor of MinOverlap.
func adaptiveOverlap(finalScale int) int {
	if finalScale <= 16 {
		return BaseOverlap
	}
	reduced := BaseOverlap * 16 / finalScale
	if reduced < MinOverlap {
		return MinOverlap
	}
	return reduced
}

// templatesForChain builds the per-stage template config: stage number,
// scale multiplier and expected tile count. No client-side split factor is
// set on any template, whatever the size of a stage's input.
func templatesForChain(chain []int, tileCount int) []upscale.StageTemplate {
	out := make([]upscale.StageTemplate, 0, len(chain))
	for i, scale := range chain {
		out = append(out, upscale.StageTemplate{
			StageIndex:        i + 1,
			ScaleMultiplier:   scale,
			ExpectedTileCount: tileCount,
		})
	}
	return out
}

// SplitFactor computes k^2 where k = ceil(maxInputDim / sqrt(GPUPixelBudget)),
// the client-side split factor required when a stage's input would exceed
// the GPU pixel budget even after tiling (stages 3+ of >=28x targets; out of
// scope by the chain-length rule, but the formula is kept for StageTemplate
// completeness).
func SplitFactor(maxInputDim int) int {
	side := int(math.Sqrt(float64(GPUPixelBudget)))
	k := ceilDiv(maxInputDim, side)
	if k < 1 {
		k = 1
	}
	return k * k
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
