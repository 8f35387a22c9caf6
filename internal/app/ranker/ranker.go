// Package ranker assigns scheduling priority to admitted requests.
package ranker

import (
	"github.com/glyphic-ai/render-api/internal/domain"
)

const (
	paidTierWeight = 1000

	// Caller hints are clamped so no hint can jump a tier boundary.
	maxHint = 100
	minHint = -100
)

// Rank computes the base priority stored on the job at admission: tier
// weight plus the clamped caller hint. It is a pure function; the age
// boost that completes the scheduling score accrues later, at dequeue
// time (domain.EffectivePriority), and ties are broken by enqueue
// sequence so dequeue order is total and deterministic.
func Rank(tier domain.Tier, hint int) int {
	base := 0
	if tier == domain.TierPaid {
		base = paidTierWeight
	}
	if hint > maxHint {
		hint = maxHint
	}
	if hint < minHint {
		hint = minHint
	}
	return base + hint
}
