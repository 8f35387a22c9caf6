package domain

import "time"

// Artifact is the output of a generation run: a reference to the
// produced content plus provider metadata. The artifact bytes themselves
// live wherever the provider put them; we carry only the reference.
type Artifact struct {
	URL         string
	ContentType string
	Provider    string
	GeneratedAt time.Time
}
