// Package registry holds the static catalog of upscaler models and the
// selection rule that picks one for a given content category and per-stage
// scale.
package registry

import (
	"strings"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Model describes one remote-inference model entry.
type Model struct {
	ID                  string
	Version             string
	NativeScales        []int
	ContentAffinity     upscale.Category
	SupportsFaceEnhance bool
	MaxTileDim          int
}

const (
	photoModelID = "nightmareai/real-esrgan"
	artModelID   = "lucataco/sd-x2-latent-upscaler-art"
	animeModelID = "mv-lab/real-esrgan-anime"
)

// catalog is the static model table. Version hashes are placeholders for a
// real provider catalog; they are opaque strings threaded through to the
// prediction provider unchanged.
var catalog = map[string]Model{
	photoModelID: {
		ID:                  photoModelID,
		Version:             "42fed1c4974146d4d2414e2be2c5277c7fcf05fcc3a73abf41610695738c1d7b",
		NativeScales:        []int{2, 3, 4, 5, 6, 7, 8, 9, 10},
		ContentAffinity:     upscale.CategoryPhoto,
		SupportsFaceEnhance: true,
		MaxTileDim:          1448,
	},
	artModelID: {
		ID:                  artModelID,
		Version:             "a4d35b5c8ef7b3d8c1842b40e1ce3fa9c3b3a0e8ebd9c8e0e6f12d4a3a8d5e6c",
		NativeScales:        []int{4},
		ContentAffinity:     upscale.CategoryArt,
		SupportsFaceEnhance: false,
		MaxTileDim:          1024,
	},
	animeModelID: {
		ID:                  animeModelID,
		Version:             "cdfd1e5d9c9b4d6e8e5f6a1b3c2d4e5f6a1b3c2d4e5f6a1b3c2d4e5f6a1b3c2d",
		NativeScales:        []int{4},
		ContentAffinity:     upscale.CategoryAnime,
		SupportsFaceEnhance: false,
		MaxTileDim:          1448,
	},
}

// Registry exposes the model-selection rule: Pick(category, stageIndex,
// stageScale, options) returns the chosen Model (id, version, native scales,
// face-enhance flag).
type Registry struct {
	log *logger.Logger
}

func New(log *logger.Logger) *Registry {
	return &Registry{log: log.With("component", "ModelRegistry")}
}

// Options carries the caller's optional preferences into Pick.
type Options struct {
	PinnedModelID string
	FaceEnhance   *bool
}

// Pick selects a model for a single chain stage of the given scale and
// category, applying the selection rules from the model registry design:
// photo is the default for every scale, art/text use the specialized 4x
// model only for the chain's first stage when that stage is exactly 4x
// (every later stage - including a later 4x stage, such as the second
// stage of art's 16x = [4,4] decomposition - uses the photo model, since
// the specialized model cannot tile an already-upscaled intermediate),
// anime uses its dedicated model only for the chain's first stage at
// scale<=4, and an unknown category or invalid pin degrades gracefully to
// the photo model. A non-nil FaceEnhance option can switch face enhancement
// off; it never turns it on for a model or scale that lacks it.
func (r *Registry) Pick(category upscale.Category, stageIndex, stageScale int, opts Options) Model {
	m := r.pickByCategory(category, stageIndex, stageScale)

	if opts.PinnedModelID != "" {
		if pinned, ok := catalog[opts.PinnedModelID]; ok && modelSupportsScale(pinned, stageScale) {
			m = pinned
		} else {
			r.log.Warn("ignoring invalid pinned model", "pinned", opts.PinnedModelID, "scale", stageScale)
		}
	}
	if opts.FaceEnhance != nil {
		m = withFaceEnhance(m, *opts.FaceEnhance)
	}
	return m
}

func (r *Registry) pickByCategory(category upscale.Category, stageIndex, stageScale int) Model {
	switch normalizeCategory(category) {
	case upscale.CategoryArt, upscale.CategoryText:
		if stageIndex == 1 && stageScale == 4 {
			return catalog[artModelID]
		}
		return withFaceEnhance(catalog[photoModelID], false)
	case upscale.CategoryAnime:
		if stageIndex == 1 && stageScale <= 4 {
			return catalog[animeModelID]
		}
		return withFaceEnhance(catalog[photoModelID], false)
	case upscale.CategoryPhoto:
		return withFaceEnhance(catalog[photoModelID], stageScale <= 4)
	default:
		r.log.Warn("unknown category, falling back to photo model", "category", string(category))
		return withFaceEnhance(catalog[photoModelID], stageScale <= 4)
	}
}

func normalizeCategory(c upscale.Category) upscale.Category {
	switch upscale.Category(strings.ToLower(string(c))) {
	case upscale.CategoryArt:
		return upscale.CategoryArt
	case upscale.CategoryText:
		return upscale.CategoryText
	case upscale.CategoryAnime:
		return upscale.CategoryAnime
	case upscale.CategoryPhoto:
		return upscale.CategoryPhoto
	default:
		return upscale.CategoryPhoto
	}
}

func modelSupportsScale(m Model, scale int) bool {
	for _, s := range m.NativeScales {
		if s == scale {
			return true
		}
	}
	return scale <= m.NativeScales[len(m.NativeScales)-1]
}

func withFaceEnhance(m Model, enhance bool) Model {
	m.SupportsFaceEnhance = enhance && m.SupportsFaceEnhance
	return m
}
