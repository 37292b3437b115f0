// Package community resolves user-supplied identifiers to stored
// communities, creating new ones from geocoding hits when nothing matches.
package community

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/store"
)

// maxSlugAttempts bounds the suffix search for a free community id.
const maxSlugAttempts = 100

// Repository is the community persistence the resolver needs.
type Repository interface {
	GetCommunity(ctx context.Context, id string) (domain.Community, error)
	FindCommunityByName(ctx context.Context, name string) (domain.Community, error)
	CreateCommunity(ctx context.Context, c domain.Community) error
	UpdateCommunity(ctx context.Context, c domain.Community) error
}

// Resolver looks communities up by id, then by name, then through the
// geocoder. A nil geocoder disables external lookup.
type Resolver struct {
	repo         Repository
	geocoder     domain.Geocoder
	defaultCity  string
	defaultState string
	logger       *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(repo Repository, geocoder domain.Geocoder, defaultCity, defaultState string, logger *slog.Logger) *Resolver {
	return &Resolver{
		repo:         repo,
		geocoder:     geocoder,
		defaultCity:  defaultCity,
		defaultState: defaultState,
		logger:       logger,
	}
}

// Resolve returns the community identified by idOrName. Blank input is
// domain.ErrInvalidRequest; no match anywhere is domain.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, idOrName string) (domain.Community, error) {
	q := strings.TrimSpace(idOrName)
	if q == "" {
		return domain.Community{}, fmt.Errorf("community identifier is blank: %w", domain.ErrInvalidRequest)
	}

	c, err := r.repo.GetCommunity(ctx, q)
	if err == nil {
		return r.enrich(ctx, c), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Community{}, err
	}

	c, err = r.repo.FindCommunityByName(ctx, q)
	if err == nil {
		return r.enrich(ctx, c), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Community{}, err
	}

	return r.lookupExternal(ctx, q)
}

func (r *Resolver) lookupExternal(ctx context.Context, q string) (domain.Community, error) {
	if r.geocoder == nil {
		return domain.Community{}, fmt.Errorf("community %q: %w", q, domain.ErrNotFound)
	}

	result, err := r.geocoder.ForwardGeocode(ctx, domain.BiasQuery(q, r.defaultCity, r.defaultState), r.defaultState)
	if err != nil {
		r.logger.Warn("forward geocoding failed", "query", q, "error", err)
		return domain.Community{}, fmt.Errorf("community %q: %w", q, domain.ErrNotFound)
	}
	if !result.Found() {
		return domain.Community{}, fmt.Errorf("community %q: %w", q, domain.ErrNotFound)
	}

	c := domain.CommunityFromGeocode(q, result)
	if existing, err := r.repo.FindCommunityByName(ctx, c.Name); err == nil {
		return existing, nil
	}
	c, _ = domain.EnrichWithGeocoding(ctx, c, r.geocoder, r.logger)
	return r.create(ctx, c)
}

// create inserts c under the first free id among slug, slug-2, slug-3, ...
func (r *Resolver) create(ctx context.Context, c domain.Community) (domain.Community, error) {
	base := domain.Slugify(c.Name)
	if base == "" {
		base = "community"
	}
	for i := 1; i <= maxSlugAttempts; i++ {
		c.ID = base
		if i > 1 {
			c.ID = base + "-" + strconv.Itoa(i)
		}
		c.UpdatedAt = domain.Now()
		err := r.repo.CreateCommunity(ctx, c)
		if err == nil {
			r.logger.Info("community created from geocoding",
				"community_id", c.ID, "name", c.Name, "city", c.City, "state", c.State)
			return c, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return domain.Community{}, fmt.Errorf("creating community %s: %w", c.ID, err)
		}
	}
	return domain.Community{}, fmt.Errorf("no free id for community %q after %d attempts", c.Name, maxSlugAttempts)
}

// enrich fills a missing city or state from reverse geocoding and persists
// the change. Failures leave the community as it was.
func (r *Resolver) enrich(ctx context.Context, c domain.Community) domain.Community {
	updated, changed := domain.EnrichWithGeocoding(ctx, c, r.geocoder, r.logger)
	if !changed {
		return c
	}
	updated.UpdatedAt = domain.Now()
	if err := r.repo.UpdateCommunity(ctx, updated); err != nil {
		r.logger.Warn("persisting geocoded city failed", "community_id", c.ID, "error", err)
		return c
	}
	return updated
}
