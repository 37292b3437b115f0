package viirs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// TIFF tags read by the raster decoder.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
)

// TIFF field types.
const (
	typeByte   = 1
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

// Sample formats.
const (
	formatUint  = 1
	formatInt   = 2
	formatFloat = 3
)

var errUnsupported = errors.New("unsupported tiff layout")

// Raster is a single-band, uncompressed, north-up GeoTIFF read lazily from
// disk. Pixels are fetched individually, so only the sampled window is read.
type Raster struct {
	r     io.ReaderAt
	order binary.ByteOrder
	close func() error

	Width  int
	Height int

	bytesPerSample int
	sampleFormat   int

	// Strips have blockW == Width; tiles have both dimensions set.
	blockW  int
	blockH  int
	offsets []uint64

	ScaleX  float64
	ScaleY  float64
	OriginX float64
	OriginY float64
}

// Open reads the header of the GeoTIFF at path.
func Open(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := Decode(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.close = f.Close
	return r, nil
}

// Decode parses the first image directory of a GeoTIFF.
func Decode(ra io.ReaderAt) (*Raster, error) {
	var hdr [8]byte
	if _, err := ra.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errors.New("not a tiff file")
	}
	if order.Uint16(hdr[2:4]) != 42 {
		return nil, fmt.Errorf("%w: not classic tiff", errUnsupported)
	}

	entries, err := readIFD(ra, order, int64(order.Uint32(hdr[4:8])))
	if err != nil {
		return nil, err
	}

	r := &Raster{r: ra, order: order, sampleFormat: formatUint}
	uintTag := func(tag int, def uint64) (uint64, error) {
		e, ok := entries[tag]
		if !ok {
			return def, nil
		}
		vs, err := e.uints(ra, order)
		if err != nil || len(vs) == 0 {
			return 0, fmt.Errorf("tag %d: %w", tag, errOr(err))
		}
		return vs[0], nil
	}

	width, err := uintTag(tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	height, err := uintTag(tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, errors.New("missing image dimensions")
	}
	r.Width, r.Height = int(width), int(height)

	if c, err := uintTag(tagCompression, 1); err != nil || c != 1 {
		return nil, fmt.Errorf("%w: compression %d", errUnsupported, c)
	}
	if spp, err := uintTag(tagSamplesPerPixel, 1); err != nil || spp != 1 {
		return nil, fmt.Errorf("%w: %d samples per pixel", errUnsupported, spp)
	}
	if pc, err := uintTag(tagPlanarConfig, 1); err != nil || pc != 1 {
		return nil, fmt.Errorf("%w: planar configuration %d", errUnsupported, pc)
	}
	bits, err := uintTag(tagBitsPerSample, 1)
	if err != nil {
		return nil, err
	}
	sf, err := uintTag(tagSampleFormat, formatUint)
	if err != nil {
		return nil, err
	}
	r.sampleFormat = int(sf)
	r.bytesPerSample = int(bits / 8)
	if !supportedSample(r.sampleFormat, int(bits)) {
		return nil, fmt.Errorf("%w: %d-bit samples of format %d", errUnsupported, bits, sf)
	}

	if e, ok := entries[tagTileOffsets]; ok {
		tw, err := uintTag(tagTileWidth, 0)
		if err != nil {
			return nil, err
		}
		th, err := uintTag(tagTileLength, 0)
		if err != nil {
			return nil, err
		}
		if tw == 0 || th == 0 {
			return nil, errors.New("tiled image without tile size")
		}
		r.blockW, r.blockH = int(tw), int(th)
		if r.offsets, err = e.uints(ra, order); err != nil {
			return nil, fmt.Errorf("tile offsets: %w", err)
		}
	} else {
		e, ok := entries[tagStripOffsets]
		if !ok {
			return nil, errors.New("missing strip offsets")
		}
		rps, err := uintTag(tagRowsPerStrip, height)
		if err != nil {
			return nil, err
		}
		r.blockW, r.blockH = r.Width, int(min(rps, height))
		if r.offsets, err = e.uints(ra, order); err != nil {
			return nil, fmt.Errorf("strip offsets: %w", err)
		}
	}

	scale, err := entries.doubles(ra, order, tagModelPixelScale)
	if err != nil || len(scale) < 2 {
		return nil, fmt.Errorf("missing ModelPixelScale: %w", errOr(err))
	}
	tie, err := entries.doubles(ra, order, tagModelTiepoint)
	if err != nil || len(tie) < 5 {
		return nil, fmt.Errorf("missing ModelTiepoint: %w", errOr(err))
	}
	if scale[0] <= 0 || scale[1] <= 0 {
		return nil, errors.New("non-positive pixel scale")
	}
	r.ScaleX, r.ScaleY = scale[0], scale[1]
	r.OriginX, r.OriginY = tie[3], tie[4]
	return r, nil
}

// Close releases the underlying file, if any.
func (r *Raster) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// At reads the pixel at column x, row y.
func (r *Raster) At(x, y int) (float64, error) {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return 0, fmt.Errorf("pixel %d,%d out of bounds", x, y)
	}
	across := (r.Width + r.blockW - 1) / r.blockW
	block := (y/r.blockH)*across + x/r.blockW
	if block >= len(r.offsets) {
		return 0, fmt.Errorf("block %d missing", block)
	}
	within := (y%r.blockH)*r.blockW + x%r.blockW
	off := int64(r.offsets[block]) + int64(within*r.bytesPerSample)

	var buf [8]byte
	b := buf[:r.bytesPerSample]
	if _, err := r.r.ReadAt(b, off); err != nil {
		return 0, fmt.Errorf("read pixel: %w", err)
	}
	return r.decodeSample(b), nil
}

func (r *Raster) decodeSample(b []byte) float64 {
	switch {
	case r.sampleFormat == formatFloat && len(b) == 4:
		return float64(math.Float32frombits(r.order.Uint32(b)))
	case r.sampleFormat == formatFloat && len(b) == 8:
		return math.Float64frombits(r.order.Uint64(b))
	case r.sampleFormat == formatInt && len(b) == 2:
		return float64(int16(r.order.Uint16(b)))
	case len(b) == 2:
		return float64(r.order.Uint16(b))
	default:
		return float64(b[0])
	}
}

func supportedSample(format, bits int) bool {
	switch format {
	case formatUint:
		return bits == 8 || bits == 16
	case formatInt:
		return bits == 16
	case formatFloat:
		return bits == 32 || bits == 64
	default:
		return false
	}
}

type ifdEntry struct {
	typ   uint16
	count uint32
	value [4]byte
}

type ifd map[int]ifdEntry

func readIFD(ra io.ReaderAt, order binary.ByteOrder, offset int64) (ifd, error) {
	var n [2]byte
	if _, err := ra.ReadAt(n[:], offset); err != nil {
		return nil, fmt.Errorf("read ifd: %w", err)
	}
	count := int(order.Uint16(n[:]))
	buf := make([]byte, count*12)
	if _, err := ra.ReadAt(buf, offset+2); err != nil {
		return nil, fmt.Errorf("read ifd entries: %w", err)
	}
	entries := make(ifd, count)
	for i := 0; i < count; i++ {
		e := buf[i*12 : (i+1)*12]
		var v [4]byte
		copy(v[:], e[8:12])
		entries[int(order.Uint16(e[0:2]))] = ifdEntry{
			typ:   order.Uint16(e[2:4]),
			count: order.Uint32(e[4:8]),
			value: v,
		}
	}
	return entries, nil
}

func typeSize(typ uint16) int {
	switch typ {
	case typeByte:
		return 1
	case typeShort:
		return 2
	case typeLong:
		return 4
	case typeDouble:
		return 8
	default:
		return 0
	}
}

// data returns the raw bytes of an entry, following the offset when the
// values do not fit inline.
func (e ifdEntry) data(ra io.ReaderAt, order binary.ByteOrder) ([]byte, error) {
	size := typeSize(e.typ)
	if size == 0 {
		return nil, fmt.Errorf("%w: field type %d", errUnsupported, e.typ)
	}
	n := size * int(e.count)
	if n <= 4 {
		return e.value[:n], nil
	}
	buf := make([]byte, n)
	if _, err := ra.ReadAt(buf, int64(order.Uint32(e.value[:]))); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e ifdEntry) uints(ra io.ReaderAt, order binary.ByteOrder) ([]uint64, error) {
	b, err := e.data(ra, order)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case typeByte:
			out[i] = uint64(b[i])
		case typeShort:
			out[i] = uint64(order.Uint16(b[i*2:]))
		case typeLong:
			out[i] = uint64(order.Uint32(b[i*4:]))
		default:
			return nil, fmt.Errorf("%w: integer field of type %d", errUnsupported, e.typ)
		}
	}
	return out, nil
}

func (d ifd) doubles(ra io.ReaderAt, order binary.ByteOrder, tag int) ([]float64, error) {
	e, ok := d[tag]
	if !ok {
		return nil, nil
	}
	if e.typ != typeDouble {
		return nil, fmt.Errorf("%w: tag %d has type %d", errUnsupported, tag, e.typ)
	}
	b, err := e.data(ra, order)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(order.Uint64(b[i*8:]))
	}
	return out, nil
}

func errOr(err error) error {
	if err != nil {
		return err
	}
	return errors.New("not present")
}
