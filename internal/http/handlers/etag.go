package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// respondWithETag writes payload with a strong content validator and answers
// 304 when If-None-Match already names it. User payloads are private to the
// caller, so shared caches must not keep them.
func respondWithETag(ctx *gin.Context, payload any) {
	ctx.Header("Cache-Control", "private, no-cache")

	tag, err := contentETag(payload)
	if err != nil {
		ctx.JSON(http.StatusOK, payload)
		return
	}

	ctx.Header("ETag", tag)

	if etagMatches(ctx.GetHeader("If-None-Match"), tag) {
		ctx.Status(http.StatusNotModified)
		return
	}

	ctx.JSON(http.StatusOK, payload)
}

func contentETag(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(b)

	// 16 bytes are plenty to tell two representations apart
	return `"` + hex.EncodeToString(sum[:16]) + `"`, nil
}

func etagMatches(header, current string) bool {
	header = strings.TrimSpace(header)
	if header == "" || current == "" {
		return false
	}

	if header == "*" {
		return true
	}

	for _, candidate := range strings.Split(header, ",") {
		// weak comparison, W/"x" matches "x"
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == current {
			return true
		}
	}

	return false
}
