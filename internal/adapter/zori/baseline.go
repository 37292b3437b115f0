// Package zori reads the Zillow Observed Rent Index city CSV and derives the
// rent baseline of a community from its city row.
package zori

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
)

// Rent is the baseline for one city. TrendPct is nil when the CSV lacks a
// value twelve months before the latest one.
type Rent struct {
	Median   float64
	TrendPct *float64
	AsOf     string // header of the month Median was taken from
}

// Baseline looks up rent rows by city and state. The CSV is parsed once and
// re-read when its modification time changes.
type Baseline struct {
	path         string
	defaultCity  string
	defaultState string
	logger       *slog.Logger

	mu      sync.Mutex
	modTime time.Time
	rows    map[string]Rent
}

// NewBaseline creates a baseline reader for the CSV at path. Communities
// with no city or state fall back to the defaults.
func NewBaseline(path, defaultCity, defaultState string, logger *slog.Logger) *Baseline {
	return &Baseline{path: path, defaultCity: defaultCity, defaultState: defaultState, logger: logger}
}

// Lookup returns the rent baseline for a community's city. ok is false when
// the file is missing or unreadable or has no matching row.
func (b *Baseline) Lookup(_ context.Context, c domain.Community) (Rent, bool) {
	city := c.City
	if city == "" {
		city = b.defaultCity
	}
	state := c.State
	if state == "" {
		state = b.defaultState
	}

	rows, err := b.load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			b.logger.Warn("rent baseline unreadable", "path", b.path, "error", err)
		}
		return Rent{}, false
	}
	r, ok := rows[key(city, state)]
	return r, ok
}

func (b *Baseline) load() (map[string]Rent, error) {
	info, err := os.Stat(b.path)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rows != nil && info.ModTime().Equal(b.modTime) {
		return b.rows, nil
	}

	f, err := os.Open(b.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := parse(f)
	if err != nil {
		return nil, err
	}
	b.rows = rows
	b.modTime = info.ModTime()
	return rows, nil
}

// parse reads every city row of a ZORI CSV.
func parse(r io.Reader) (map[string]Rent, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = append([]string(nil), header...)

	regionType, regionName, stateCol := -1, -1, -1
	var dateCols []int
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "RegionType":
			regionType = i
		case "RegionName":
			regionName = i
		case "State":
			stateCol = i
		default:
			if isDateColumn(h) {
				dateCols = append(dateCols, i)
			}
		}
	}
	if regionType < 0 || regionName < 0 || stateCol < 0 {
		return nil, errors.New("missing RegionType, RegionName or State column")
	}
	if len(dateCols) == 0 {
		return nil, errors.New("no monthly columns")
	}

	rows := make(map[string]Rent)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if !strings.EqualFold(field(rec, regionType), "city") {
			continue
		}
		k := key(field(rec, regionName), field(rec, stateCol))
		if _, seen := rows[k]; seen {
			continue
		}
		if rent, ok := latestAndTrend(rec, header, dateCols); ok {
			rows[k] = rent
		}
	}
	return rows, nil
}

// latestAndTrend takes the last month holding a finite number and compares
// it with the value twelve columns earlier.
func latestAndTrend(rec, header []string, dateCols []int) (Rent, bool) {
	values := make([]*float64, len(dateCols))
	latest := -1
	for i, col := range dateCols {
		if v, err := strconv.ParseFloat(field(rec, col), 64); err == nil && domain.IsPresent(&v) {
			values[i] = &v
			latest = i
		}
	}
	if latest < 0 {
		return Rent{}, false
	}

	rent := Rent{Median: *values[latest], AsOf: header[dateCols[latest]]}
	if prev := latest - 12; prev >= 0 && values[prev] != nil && *values[prev] > 0 {
		rent.TrendPct = domain.Float(domain.Round2((rent.Median/(*values[prev]) - 1) * 100))
	}
	return rent, true
}

// isDateColumn matches monthly headers such as 2025-12-31.
func isDateColumn(name string) bool {
	parts := strings.Split(strings.TrimSpace(name), "-")
	if len(parts) != 3 || len(parts[0]) != 4 {
		return false
	}
	_, err := strconv.Atoi(parts[0])
	return err == nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func key(city, state string) string {
	return strings.ToLower(strings.TrimSpace(city)) + "|" + strings.ToUpper(strings.TrimSpace(state))
}
