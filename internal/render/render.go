// Package render annotates the current map artwork with the server's mode
// and favorites count.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"github.com/foxzi/serverbot/internal/game"
	"github.com/foxzi/serverbot/internal/gametools"
	"github.com/foxzi/serverbot/internal/status"
)

// ErrRender is returned when the map image cannot be downloaded, decoded or written
var ErrRender = errors.New("render failed")

// Output file names inside the render directory
const (
	MapModeFile   = "map_mode.jpg"
	InfoFile      = "info_image.jpg"
	FavoritesFile = "only_favorites_image.jpg"
)

const (
	darken      = -25
	jpegQuality = 90
	maxImgSize  = 16 << 20
)

// Images holds the paths of the files written for one status
type Images struct {
	MapMode   string
	Info      string
	Favorites string

	// Selected is the image attached to notifications
	Selected string
}

// Config contains renderer settings
type Config struct {
	Dir             string
	Variant         game.Variant
	FavoritesMarker string
	Timeout         time.Duration
}

// Renderer downloads map artwork and writes the annotated images
type Renderer struct {
	cfg        Config
	fonts      *fontSet
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a renderer and makes sure the output directory exists
func New(cfg Config, logger *slog.Logger) (*Renderer, error) {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create render directory: %w", err)
	}

	fonts, err := loadFonts(cfg.Variant)
	if err != nil {
		return nil, err
	}

	return &Renderer{
		cfg:   cfg,
		fonts: fonts,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// Render writes the three images for st and reports which one to attach
func (r *Renderer) Render(ctx context.Context, st status.ServerStatus) (Images, error) {
	src, err := r.download(ctx, st.MapImageURL)
	if err != nil {
		return Images{}, err
	}

	base := imaging.AdjustBrightness(src, darken)
	plain := imaging.Clone(base)
	bounds := base.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())

	// Mode headline
	r.fonts.drawText(base, r.fonts.headline, h/1.9, w/middleDivisor(r.cfg.Variant, st.MapMode), h/4.8, st.SmallMode)

	images := Images{
		MapMode:   filepath.Join(r.cfg.Dir, MapModeFile),
		Info:      filepath.Join(r.cfg.Dir, InfoFile),
		Favorites: filepath.Join(r.cfg.Dir, FavoritesFile),
	}
	if err := r.save(base, images.MapMode); err != nil {
		return Images{}, err
	}

	if r.cfg.Variant.Legacy() {
		r.fonts.drawBadge(base, h/6, w/3.5, h/1.5, st.Favorites)
		r.fonts.drawBadge(plain, h/4.5, w/4.0, h/2.5, st.Favorites)
	}
	if err := r.save(base, images.Info); err != nil {
		return Images{}, err
	}
	if err := r.save(plain, images.Favorites); err != nil {
		return Images{}, err
	}

	images.Selected = images.Info
	if st.HasMarker(r.cfg.FavoritesMarker) {
		images.Selected = images.Favorites
	}

	r.logger.Debug("rendered images", "map", st.MapName, "selected", images.Selected)
	return images, nil
}

// middleDivisor positions the mode headline horizontally
func middleDivisor(v game.Variant, mapMode string) float64 {
	switch {
	case mapMode == "TugOfWar":
		return 3.0
	case v.Modern():
		return 3.15
	default:
		return 3.5
	}
}

func (r *Renderer) download(ctx context.Context, rawURL string) (image.Image, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: no map image url", ErrRender)
	}
	u := gametools.ExpandImageURL(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrRender, err)
	}
	req.Header.Set("User-Agent", "serverbot")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download map image: %v", ErrRender, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download map image: HTTP %d", ErrRender, resp.StatusCode)
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, maxImgSize))
	if err != nil {
		return nil, fmt.Errorf("%w: decode map image: %v", ErrRender, err)
	}
	return img, nil
}

// save encodes img as JPEG, replacing path atomically
func (r *Renderer) save(img image.Image, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".render-*.jpg")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRender, err)
	}
	defer os.Remove(tmp.Name())

	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: encode %s: %v", ErrRender, filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrRender, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %v", ErrRender, err)
	}
	return nil
}
