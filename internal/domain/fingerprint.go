package domain

// Fingerprint is a deterministic digest of a request's semantic content
// (normalized prompt + canonicalized generation parameters). It is the
// cache/dedup key: identical normalized content always yields the same
// fingerprint. The zero value means "unkeyable" — the request carried no
// content worth caching and must bypass the result cache.
type Fingerprint string

// IsZero reports whether the fingerprint is the unkeyable sentinel.
func (f Fingerprint) IsZero() bool { return f == "" }
