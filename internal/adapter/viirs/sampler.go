// Package viirs samples the NASA VIIRS night-time radiance raster around a
// community center and turns it into a 0-100 night activity index.
package viirs

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/provider"
)

// saturationRadiance is the mean radiance (nW/cm²/sr) that maps to 100.
const saturationRadiance = 80.0

// Sampler answers night activity from a local GeoTIFF. The raster header is
// read once and reopened when the file's modification time changes.
type Sampler struct {
	path     string
	radiusKm float64
	logger   *slog.Logger

	mu      sync.Mutex
	modTime time.Time
	raster  *Raster
}

// NewSampler creates a sampler for the raster at path.
func NewSampler(path string, radiusKm float64, logger *slog.Logger) *Sampler {
	return &Sampler{path: path, radiusKm: radiusKm, logger: logger}
}

// Fetch implements provider.Fetcher.
func (s *Sampler) Fetch(ctx context.Context, q provider.Query) provider.Result[float64] {
	if q.Center == nil {
		return provider.Absent[float64](domain.SourceVIIRS, domain.StatusMissingCoordinates, "")
	}
	if s.path == "" {
		return provider.Absent[float64](domain.SourceVIIRS, domain.StatusNotConfigured, "")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.open()
	if errors.Is(err, fs.ErrNotExist) {
		return provider.Absent[float64](domain.SourceVIIRS, domain.StatusNotConfigured, "raster not found")
	}
	if err != nil {
		s.logger.Warn("night radiance raster unreadable", "path", s.path, "error", err)
		return provider.Absent[float64](domain.SourceVIIRS, domain.StatusMissing, "raster unreadable")
	}
	if err := ctx.Err(); err != nil {
		return provider.Absent[float64](domain.SourceVIIRS, domain.StatusRequestFailed, err.Error())
	}

	mean, ok, err := sampleMean(r, *q.Center, s.radiusKm)
	if err != nil {
		s.logger.Warn("night radiance sample failed", "path", s.path, "error", err)
		return provider.Absent[float64](domain.SourceVIIRS, domain.StatusMissing, "raster unreadable")
	}
	if !ok {
		return provider.Absent[float64](domain.SourceVIIRS, domain.StatusNotApplicable, "outside raster")
	}
	return provider.Found(domain.SourceVIIRS, ActivityIndex(mean))
}

// Close releases the open raster.
func (s *Sampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raster == nil {
		return nil
	}
	err := s.raster.Close()
	s.raster = nil
	return err
}

// open returns the cached raster, reopening it if the file changed. Callers
// hold s.mu.
func (s *Sampler) open() (*Raster, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, err
	}
	if s.raster != nil && info.ModTime().Equal(s.modTime) {
		return s.raster, nil
	}
	if s.raster != nil {
		s.raster.Close()
		s.raster = nil
	}
	r, err := Open(s.path)
	if err != nil {
		return nil, err
	}
	s.raster = r
	s.modTime = info.ModTime()
	return r, nil
}

// sampleMean averages the positive finite pixels in a box of radiusKm around
// center. ok is false when the center falls outside the raster. A window with
// no positive pixel averages to zero.
func sampleMean(r *Raster, center domain.Coordinate, radiusKm float64) (float64, bool, error) {
	px := int((center.Lng - r.OriginX) / r.ScaleX)
	py := int((r.OriginY - center.Lat) / r.ScaleY)
	if px < 0 || py < 0 || px >= r.Width || py >= r.Height {
		return 0, false, nil
	}

	latDelta, lonDelta := domain.DegreeDeltas(center.Lat, radiusKm)
	rx := max(1, int(math.Ceil(lonDelta/r.ScaleX)))
	ry := max(1, int(math.Ceil(latDelta/r.ScaleY)))

	x0, x1 := max(0, px-rx), min(r.Width, px+rx+1)
	y0, y1 := max(0, py-ry), min(r.Height, py+ry+1)

	var sum float64
	var n int
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			v, err := r.At(x, y)
			if err != nil {
				return 0, false, err
			}
			if v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) {
				sum += v
				n++
			}
		}
	}
	if n == 0 {
		return 0, true, nil
	}
	return sum / float64(n), true, nil
}

// ActivityIndex maps mean radiance onto 0-100 on a log scale.
func ActivityIndex(mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	v := math.Log1p(mean) / math.Log1p(saturationRadiance) * 100
	return domain.Round2(math.Min(100, math.Max(0, v)))
}
