package provider

import "github.com/couchcryptid/community-scoring-service/internal/domain"

// Noise is the noise proxy derived from nearby major roads and airports.
type Noise struct {
	AvgDB float64
	P90DB float64
}

// Reviews is what the review provider found for a community.
type Reviews struct {
	VideoIDs []string
	Comments []domain.RawComment
}
