// Package fingerprint derives the cache/dedup key for a generation
// request from its semantic content.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/glyphic-ai/render-api/internal/domain"
)

// Request is the semantically relevant subset of an incoming request:
// the prompt and the generation parameters. Request-unique metadata
// (timestamps, correlation IDs) must not be included by the caller.
type Request struct {
	Prompt string
	Params map[string]string
}

// Compute returns the deterministic fingerprint for req. ok=false means
// the request is unkeyable (empty after normalization) and must bypass
// the result cache entirely.
//
// Normalization: the prompt is trimmed, case-folded and
// whitespace-collapsed; parameters are hashed in sorted key order with
// NUL separators so key/value boundaries stay unambiguous.
func Compute(req Request) (domain.Fingerprint, bool) {
	prompt := domain.NormalizePrompt(req.Prompt)
	if prompt == "" {
		return "", false
	}

	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})

	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(req.Params[k]))
		h.Write([]byte{0})
	}

	return domain.Fingerprint(hex.EncodeToString(h.Sum(nil))), true
}
