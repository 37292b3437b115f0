package domain

import "time"

// IsStale reports whether a metrics record needs re-fetching: there is no
// record, it was never stamped, or it is older than ttl.
func IsStale(rec *MetricsRecord, ttl time.Duration) bool {
	if rec == nil || rec.UpdatedAt.IsZero() {
		return true
	}
	return Now().Sub(rec.UpdatedAt) > ttl
}
