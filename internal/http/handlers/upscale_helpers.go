package handlers

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	httpmw "github.com/yungbote/neurobridge-backend/internal/http/middleware"
)

// resolvePrincipal prefers the authenticated principal attached by
// middleware.PrincipalMiddleware; a request-body userId is accepted only as
// a fallback for unauthenticated service-to-service submission, matching
// the spec's "userId?" optional field.
func resolvePrincipal(c *gin.Context, fallbackUserID string) (uuid.UUID, bool) {
	if id, ok := httpmw.PrincipalFromContext(c); ok {
		return id, true
	}
	if fallbackUserID == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fallbackUserID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func decodeImage(imageBase64 string) ([]byte, error) {
	s := imageBase64
	if idx := strings.Index(s, ","); idx != -1 && strings.HasPrefix(s, "data:") {
		s = s[idx+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

func respondValidationError(c *gin.Context, status int, message string, validScales []int) {
	body := gin.H{"success": false, "error": "validation error", "message": message}
	if validScales != nil {
		body["validScales"] = validScales
	}
	c.JSON(status, body)
}

// estimateSeconds is a coarse, best-effort duration estimate surfaced to
// clients immediately at submission time, before any stage has run.
func estimateSeconds(totalStages int) int {
	const perStage = 45
	return totalStages * perStage
}

// estimateCost is a coarse per-tile-equivalent cost estimate; tiled jobs
// cost roughly one unit per tile, non-tiled jobs a single unit.
func estimateCost(effectiveScale, totalTiles int) float64 {
	const unitCost = 0.01
	units := totalTiles
	if units == 0 {
		units = 1
	}
	return float64(units) * unitCost
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	return atoiOrZero(raw)
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func outputString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func errorString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
