package domain

import "time"

// AgingStep is the queue-wait interval that earns a job one point of
// effective priority. The boost is monotonic in age, so an old low-tier
// job eventually outranks fresh high-tier work instead of starving.
const AgingStep = 30 * time.Second

// EffectivePriority is the scheduling score used at dequeue time: the
// base priority assigned at admission plus the age boost accrued while
// queued. Ties are broken by enqueue sequence, earliest first.
func EffectivePriority(base int, createdAt, now time.Time) int {
	if !now.After(createdAt) {
		return base
	}
	return base + int(now.Sub(createdAt)/AgingStep)
}
