package imagecache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/image/draw"
)

// DefaultMaxSide is the ceiling on the larger dimension of anything sent to
// the model, both base previews and zoom crops.
const DefaultMaxSide = 2000

// ErrNotCached is returned by Zoom when the id has no prior FetchBase.
var ErrNotCached = errors.New("image not cached")

// Fetcher returns raw raster bytes for a source locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// CacheEntry records one fetched full-resolution image. Entries are never
// mutated, only added.
type CacheEntry struct {
	ID           string  `json:"id"`
	FullPath     string  `json:"full_path"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	PreviewPath  string  `json:"preview_path,omitempty"`
	PreviewScale float64 `json:"preview_scale,omitempty"`
}

// BaseImage is the result of FetchBase: the path to show the model and a
// description stating the real-vs-displayed size relationship.
type BaseImage struct {
	Entry       CacheEntry
	DisplayPath string
	Description string
	FromCache   bool
}

// Region is a zoom rectangle, either normalized to [0,1] or in pixels.
type Region struct {
	X1, Y1, X2, Y2 float64
	Pixel          bool
}

// ZoomResult is the persisted crop plus its effective geometry.
type ZoomResult struct {
	Path        string
	Width       int
	Height      int
	Scaled      bool
	Scale       float64
	Description string
}

// Cache is a disk-backed, write-once-per-id image cache rooted at an
// explicit scratch directory so tests and concurrent runs stay isolated.
type Cache struct {
	root    string
	fetcher Fetcher
	logger  *log.Logger

	mu       sync.Mutex
	entries  map[string]CacheEntry
	inflight map[string]*sync.Mutex
}

// New creates a cache rooted at dir.
func New(dir string, fetcher Fetcher, logger *log.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Cache{
		root:     dir,
		fetcher:  fetcher,
		logger:   logger,
		entries:  make(map[string]CacheEntry),
		inflight: make(map[string]*sync.Mutex),
	}, nil
}

func (c *Cache) metaPath(id string) string { return filepath.Join(c.root, id+".json") }
func (c *Cache) fullPath(id string) string { return filepath.Join(c.root, id+"_full.png") }
func (c *Cache) prevPath(id string) string { return filepath.Join(c.root, id+"_preview.png") }

// lockID serializes check-then-fetch-then-insert per id so concurrent runs
// never fetch the same source twice.
func (c *Cache) lockID(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.inflight[id]
	if !ok {
		m = &sync.Mutex{}
		c.inflight[id] = m
	}
	return m
}

// Entry returns the cache entry for id, if present.
func (c *Cache) Entry(id string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if ok {
		return e, true
	}
	e, err := c.loadMeta(id)
	if err != nil {
		return CacheEntry{}, false
	}
	c.entries[id] = e
	return e, true
}

func (c *Cache) loadMeta(id string) (CacheEntry, error) {
	b, err := os.ReadFile(c.metaPath(id))
	if err != nil {
		return CacheEntry{}, err
	}
	var e CacheEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return CacheEntry{}, err
	}
	if _, err := os.Stat(e.FullPath); err != nil {
		return CacheEntry{}, err
	}
	return e, nil
}

// FetchBase returns the base image for id, fetching from the source at most
// once per process lifetime. A disk hit skips the fetcher entirely.
func (c *Cache) FetchBase(ctx context.Context, id, sourceLocator string, maxPreviewSide int) (BaseImage, error) {
	if maxPreviewSide <= 0 {
		maxPreviewSide = DefaultMaxSide
	}

	idMu := c.lockID(id)
	idMu.Lock()
	defer idMu.Unlock()

	if e, ok := c.Entry(id); ok {
		return c.describe(e, true), nil
	}

	if err := ctx.Err(); err != nil {
		return BaseImage{}, err
	}

	raw, err := c.fetcher.Fetch(ctx, sourceLocator)
	if err != nil {
		return BaseImage{}, fmt.Errorf("failed to fetch source for %s: %w", id, err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return BaseImage{}, fmt.Errorf("failed to decode image for %s: %w", id, err)
	}

	bounds := img.Bounds()
	entry := CacheEntry{
		ID:       id,
		FullPath: c.fullPath(id),
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}
	if err := writePNG(entry.FullPath, img); err != nil {
		return BaseImage{}, fmt.Errorf("failed to persist full image for %s: %w", id, err)
	}

	larger := entry.Width
	if entry.Height > larger {
		larger = entry.Height
	}
	if larger > maxPreviewSide {
		scale := float64(larger) / float64(maxPreviewSide)
		w := int(math.Round(float64(entry.Width) / scale))
		h := int(math.Round(float64(entry.Height) / scale))
		preview := scaleImage(img, w, h)
		if err := writePNG(c.prevPath(id), preview); err != nil {
			return BaseImage{}, fmt.Errorf("failed to persist preview for %s: %w", id, err)
		}
		entry.PreviewPath = c.prevPath(id)
		entry.PreviewScale = scale
	}

	if err := c.saveMeta(entry); err != nil && c.logger != nil {
		c.logger.Printf("warn: failed to persist cache metadata for %s: %v", id, err)
	}

	c.mu.Lock()
	c.entries[id] = entry
	c.mu.Unlock()

	return c.describe(entry, false), nil
}

func (c *Cache) saveMeta(e CacheEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return os.WriteFile(c.metaPath(e.ID), b, 0o644)
}

// describe builds the size-relationship text the model reads. It must state
// whether detail may be missing from what is displayed.
func (c *Cache) describe(e CacheEntry, fromCache bool) BaseImage {
	if e.PreviewPath != "" {
		return BaseImage{
			Entry:       e,
			DisplayPath: e.PreviewPath,
			Description: fmt.Sprintf("scaled preview, factor %.1fx (full resolution is %dx%d px; fine detail may be missing, request a zoom to inspect)", e.PreviewScale, e.Width, e.Height),
			FromCache:   fromCache,
		}
	}
	return BaseImage{
		Entry:       e,
		DisplayPath: e.FullPath,
		Description: fmt.Sprintf("full resolution, %dx%d px", e.Width, e.Height),
		FromCache:   fromCache,
	}
}

// Zoom crops a region out of the cached full-resolution image for id and
// persists the crop to outPath. The id must have been fetched already.
func (c *Cache) Zoom(id string, region Region, outPath string) (ZoomResult, error) {
	entry, ok := c.Entry(id)
	if !ok {
		return ZoomResult{}, fmt.Errorf("%w: %s", ErrNotCached, id)
	}

	x1, y1, x2, y2 := region.X1, region.Y1, region.X2, region.Y2
	if !region.Pixel {
		x1 *= float64(entry.Width)
		x2 *= float64(entry.Width)
		y1 *= float64(entry.Height)
		y2 *= float64(entry.Height)
	}
	rect := image.Rect(
		clampInt(int(math.Round(x1)), 0, entry.Width),
		clampInt(int(math.Round(y1)), 0, entry.Height),
		clampInt(int(math.Round(x2)), 0, entry.Width),
		clampInt(int(math.Round(y2)), 0, entry.Height),
	)
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return ZoomResult{}, fmt.Errorf("zoom region for %s has no area after clamping", id)
	}

	f, err := os.Open(entry.FullPath)
	if err != nil {
		return ZoomResult{}, fmt.Errorf("failed to open cached image %s: %w", id, err)
	}
	full, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return ZoomResult{}, fmt.Errorf("failed to decode cached image %s: %w", id, err)
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(crop, crop.Bounds(), full, rect.Min, draw.Src)

	result := ZoomResult{Path: outPath, Width: rect.Dx(), Height: rect.Dy()}
	var out image.Image = crop
	larger := rect.Dx()
	if rect.Dy() > larger {
		larger = rect.Dy()
	}
	if larger > DefaultMaxSide {
		scale := float64(larger) / float64(DefaultMaxSide)
		w := int(math.Round(float64(rect.Dx()) / scale))
		h := int(math.Round(float64(rect.Dy()) / scale))
		out = scaleImage(crop, w, h)
		result.Width = w
		result.Height = h
		result.Scaled = true
		result.Scale = scale
		result.Description = fmt.Sprintf("zoom preview, factor %.1fx (crop is %dx%d px at native resolution; zoom further for fine detail)", scale, rect.Dx(), rect.Dy())
	} else {
		result.Description = fmt.Sprintf("zoom crop at native resolution, %dx%d px", rect.Dx(), rect.Dy())
	}

	if err := writePNG(outPath, out); err != nil {
		return ZoomResult{}, fmt.Errorf("failed to persist zoom crop for %s: %w", id, err)
	}
	return result, nil
}

func scaleImage(src image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
