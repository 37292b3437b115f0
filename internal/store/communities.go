package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
)

const communityColumns = `community_id, name, city, state, center_lat, center_lng, boundary_geojson, updated_at`

// GetCommunity returns the community with the given id or domain.ErrNotFound.
func (s *Store) GetCommunity(ctx context.Context, id string) (domain.Community, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+communityColumns+` FROM communities WHERE community_id = ?`, id)
	c, err := scanCommunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Community{}, fmt.Errorf("community %q: %w", id, domain.ErrNotFound)
	}
	return c, err
}

// FindCommunityByName matches a community by case-insensitive name, then by
// slug, then by the shortest name containing the query.
func (s *Store) FindCommunityByName(ctx context.Context, name string) (domain.Community, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Community{}, fmt.Errorf("community name: %w", domain.ErrInvalidRequest)
	}

	lookups := []struct {
		where string
		arg   string
	}{
		{`lower(name) = ?`, strings.ToLower(name)},
		{`community_id = ?`, domain.Slugify(name)},
		{`lower(name) LIKE ? ESCAPE '\'`, "%" + escapeLike(strings.ToLower(name)) + "%"},
	}
	for _, l := range lookups {
		if l.arg == "" {
			continue
		}
		row := s.queryRow(ctx, s.db,
			`SELECT `+communityColumns+` FROM communities WHERE `+l.where+` ORDER BY length(name), community_id LIMIT 1`, l.arg)
		c, err := scanCommunity(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		return c, err
	}
	return domain.Community{}, fmt.Errorf("community named %q: %w", name, domain.ErrNotFound)
}

// ListCommunities returns every community ordered by id.
func (s *Store) ListCommunities(ctx context.Context) ([]domain.Community, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+communityColumns+` FROM communities ORDER BY community_id`)
	if err != nil {
		return nil, fmt.Errorf("querying communities: %w", err)
	}
	defer rows.Close()

	var out []domain.Community
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCommunity inserts a new community. It returns ErrDuplicate when the
// id is already taken.
func (s *Store) CreateCommunity(ctx context.Context, c domain.Community) error {
	if c.ID == "" {
		return fmt.Errorf("community id: %w", domain.ErrInvalidRequest)
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = domain.Now()
	}
	lat, lng := centerArgs(c.Center)
	res, err := s.exec(ctx, s.db, `
		INSERT INTO communities (`+communityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (community_id) DO NOTHING`,
		c.ID, c.Name, c.City, c.State, lat, lng, c.BoundaryGeoJSON, formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting community %s: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("community %s: %w", c.ID, ErrDuplicate)
	}
	return nil
}

// UpdateCommunity overwrites the mutable fields of an existing community.
func (s *Store) UpdateCommunity(ctx context.Context, c domain.Community) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = domain.Now()
	}
	lat, lng := centerArgs(c.Center)
	res, err := s.exec(ctx, s.db, `
		UPDATE communities
		SET name = ?, city = ?, state = ?, center_lat = ?, center_lng = ?, boundary_geojson = ?, updated_at = ?
		WHERE community_id = ?`,
		c.Name, c.City, c.State, lat, lng, c.BoundaryGeoJSON, formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("updating community %s: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("community %q: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCommunity(row scanner) (domain.Community, error) {
	var (
		c         domain.Community
		lat, lng  sql.NullFloat64
		updatedAt string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.City, &c.State, &lat, &lng, &c.BoundaryGeoJSON, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scanning community: %w", err)
	}
	if lat.Valid && lng.Valid {
		c.Center = &domain.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
	}
	t, err := parseTime(updatedAt)
	if err != nil {
		return c, err
	}
	c.UpdatedAt = t
	return c, nil
}

func centerArgs(center *domain.Coordinate) (sql.NullFloat64, sql.NullFloat64) {
	if center == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: center.Lat, Valid: true}, sql.NullFloat64{Float64: center.Lng, Valid: true}
}

func escapeLike(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(v)
}
