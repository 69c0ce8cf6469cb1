// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package imagecodec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"

	codecworker "github.com/buke/codec-worker"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	_ "golang.org/x/image/webp" // Register WebP decoder
	"golang.org/x/sync/errgroup"
)

// DefaultMaxThreads is the size of the module's internal thread pool.
const DefaultMaxThreads = 8

// DefaultQuality is used for lossy formats when no quality is given.
const DefaultQuality = 75

// Image is a decoded frame: Width*Height pixels, 4 bytes each (R, G, B, A),
// alpha not premultiplied.
type Image struct {
	Data     []byte `json:"data"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	HasAlpha bool   `json:"hasAlpha"` // Some pixel is not fully opaque
}

// Info is read from the file header without decoding pixels.
// Width and Height are as stored, before any EXIF orientation.
type Info struct {
	Format   string `json:"format"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Depth    int    `json:"depth"` // Bits per channel
	HasAlpha bool   `json:"hasAlpha"`
}

// InitOptions is the init payload of the module.
type InitOptions struct {
	Threads    int `json:"threads"`    // Requested threads per worker
	MaxThreads int `json:"maxThreads"` // Internal pool size (0 = DefaultMaxThreads)
}

// DecodeRequest holds an encoded file. It is also the payload of Info.
type DecodeRequest struct {
	Data []byte `json:"data"`
}

// EncodeRequest encodes an image into Format ("png", "jpeg", "gif", "bmp", "tiff").
type EncodeRequest struct {
	Image    Image  `json:"image"`
	Format   string `json:"format"`
	Quality  int    `json:"quality"`  // JPEG quality 1-100 (0 = DefaultQuality)
	Lossless bool   `json:"lossless"` // Fail instead of writing a lossy format
}

// ResizeRequest scales an image. A zero Width or Height keeps the aspect ratio.
type ResizeRequest struct {
	Image  Image `json:"image"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
}

// RotateRequest rotates an image counter-clockwise by Angle degrees,
// optionally mirroring it horizontally first.
type RotateRequest struct {
	Image Image   `json:"image"`
	Angle float64 `json:"angle"`
	FlipH bool    `json:"flipH"`
}

// Summary describes an image without returning its pixels.
type Summary struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	AverageColor string  `json:"averageColor"` // "#rrggbb"
	Lightness    float64 `json:"lightness"`    // CIE L* of the average color, 0-1
	Opaque       bool    `json:"opaque"`
}

// Methods served by the module.
var (
	GetInfo   = codecworker.NewMethod[DecodeRequest, Info]("info")
	Decode    = codecworker.NewMethod[DecodeRequest, Image]("decode")
	Encode    = codecworker.NewMethod[EncodeRequest, []byte]("encode")
	Resize    = codecworker.NewMethod[ResizeRequest, Image]("resize")
	Rotate    = codecworker.NewMethod[RotateRequest, Image]("rotate")
	Summarize = codecworker.NewMethod[Image, Summary]("summarize")
)

// Option configures the module.
type Option func(*module)

// WithLogger sets the module logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(m *module) {
		m.logger = logger
	}
}

// WithMultiThreading overrides the environment check deciding whether the
// module may use more than one thread.
func WithMultiThreading(available func() bool) Option {
	return func(m *module) {
		if available != nil {
			m.multiThreading = available
		}
	}
}

// NewFactory returns a ModuleFactory building one codec module per worker.
func NewFactory(opts ...Option) codecworker.ModuleFactory {
	return func() (codecworker.Module, error) {
		return newModule(opts...).handlers(), nil
	}
}

type module struct {
	threads        int
	logger         *slog.Logger
	multiThreading func() bool
}

func newModule(opts ...Option) *module {
	m := &module{
		threads:        1,
		logger:         slog.Default(),
		multiThreading: codecworker.MultiThreadingAvailable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *module) handlers() *codecworker.Handlers {
	return &codecworker.Handlers{
		InitFunc: m.init,
		Methods: map[string]codecworker.HandlerFunc{
			GetInfo.Name:   GetInfo.Handle(m.info),
			Decode.Name:    Decode.Handle(m.decode),
			Encode.Name:    Encode.Handle(m.encode),
			Resize.Name:    Resize.Handle(m.resize),
			Rotate.Name:    Rotate.Handle(m.rotate),
			Summarize.Name: Summarize.Handle(m.summarize),
		},
	}
}

func (m *module) init(ctx context.Context, payload any) error {
	var opts InitOptions
	switch p := payload.(type) {
	case nil:
	case InitOptions:
		opts = p
	case *InitOptions:
		if p != nil {
			opts = *p
		}
	default:
		return fmt.Errorf("invalid init payload: %T", payload)
	}

	requested := opts.Threads
	if requested < 1 {
		requested = 1
	}
	maxThreads := opts.MaxThreads
	if maxThreads < 1 {
		maxThreads = DefaultMaxThreads
	}

	v := codecworker.ValidateThreads(requested, maxThreads, m.multiThreading())
	if v.Warning != "" && m.logger != nil {
		m.logger.Warn("Codec thread count adjusted",
			"requested", requested,
			"threads", v.Threads,
			"warning", v.Warning)
	}
	m.threads = v.Threads
	return nil
}

func (m *module) info(ctx context.Context, req DecodeRequest) (Info, error) {
	if len(req.Data) == 0 {
		return Info{}, fmt.Errorf("empty input")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(req.Data))
	if err != nil {
		return Info{}, fmt.Errorf("failed to read image header: %w", err)
	}
	return Info{
		Format:   format,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Depth:    modelDepth(cfg.ColorModel),
		HasAlpha: modelHasAlpha(cfg.ColorModel),
	}, nil
}

func (m *module) decode(ctx context.Context, req DecodeRequest) (Image, error) {
	if len(req.Data) == 0 {
		return Image{}, fmt.Errorf("empty input")
	}
	img, err := imaging.Decode(bytes.NewReader(req.Data), imaging.AutoOrientation(true))
	if err != nil {
		return Image{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return m.toImage(img)
}

func (m *module) encode(ctx context.Context, req EncodeRequest) ([]byte, error) {
	src, err := req.Image.nrgba()
	if err != nil {
		return nil, err
	}
	format, err := imaging.FormatFromExtension(req.Format)
	if err != nil {
		return nil, fmt.Errorf("unsupported format %q: %w", req.Format, err)
	}
	quality := req.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}
	if quality > 100 {
		quality = 100
	}

	if req.Lossless && format == imaging.JPEG {
		return nil, fmt.Errorf("lossless encoding is not supported for %s", format)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func (m *module) resize(ctx context.Context, req ResizeRequest) (Image, error) {
	src, err := req.Image.nrgba()
	if err != nil {
		return Image{}, err
	}
	if req.Width < 0 || req.Height < 0 || (req.Width == 0 && req.Height == 0) {
		return Image{}, fmt.Errorf("invalid target size %dx%d", req.Width, req.Height)
	}
	return m.toImage(imaging.Resize(src, req.Width, req.Height, imaging.Lanczos))
}

func (m *module) rotate(ctx context.Context, req RotateRequest) (Image, error) {
	src, err := req.Image.nrgba()
	if err != nil {
		return Image{}, err
	}
	img := src
	if req.FlipH {
		img = imaging.FlipH(img)
	}
	if req.Angle != 0 {
		img = imaging.Rotate(img, req.Angle, color.Transparent)
	}
	return m.toImage(img)
}

func (m *module) summarize(ctx context.Context, img Image) (Summary, error) {
	src, err := img.nrgba()
	if err != nil {
		return Summary{}, err
	}

	sums := make([][4]uint64, m.bandCount(img.Height))
	rowsPerBand := (img.Height + len(sums) - 1) / len(sums)
	var g errgroup.Group
	for band := range sums {
		y0 := band * rowsPerBand
		y1 := min(y0+rowsPerBand, img.Height)
		g.Go(func() error {
			for y := y0; y < y1; y++ {
				row := src.Pix[y*src.Stride : y*src.Stride+img.Width*4]
				for i := 0; i < len(row); i += 4 {
					for c := 0; c < 4; c++ {
						sums[band][c] += uint64(row[i+c])
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	var total [4]uint64
	for _, s := range sums {
		for c := range total {
			total[c] += s[c]
		}
	}
	n := float64(img.Width * img.Height)
	avg := colorful.Color{
		R: float64(total[0]) / n / 255,
		G: float64(total[1]) / n / 255,
		B: float64(total[2]) / n / 255,
	}.Clamped()
	l, _, _ := avg.Lab()

	return Summary{
		Width:        img.Width,
		Height:       img.Height,
		AverageColor: avg.Hex(),
		Lightness:    l,
		Opaque:       total[3] == uint64(img.Width*img.Height)*255,
	}, nil
}

// bandCount returns how many row bands to process in parallel.
func (m *module) bandCount(rows int) int {
	return max(1, min(m.threads, rows))
}

// toImage converts img to tightly packed non-premultiplied RGBA rows,
// splitting the rows into one band per thread. NRGBA sources are copied
// byte for byte.
func (m *module) toImage(img image.Image) (Image, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return Image{}, fmt.Errorf("empty image")
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))

	bands := m.bandCount(h)
	rowsPerBand := (h + bands - 1) / bands

	var g errgroup.Group
	for y0 := 0; y0 < h; y0 += rowsPerBand {
		y1 := min(y0+rowsPerBand, h)
		g.Go(func() error {
			if src, ok := img.(*image.NRGBA); ok {
				for y := y0; y < y1; y++ {
					i := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
					copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[i:i+w*4])
				}
				return nil
			}
			band := image.Rect(0, y0, w, y1)
			draw.Draw(dst, band, img, bounds.Min.Add(image.Pt(0, y0)), draw.Src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Image{}, err
	}
	return Image{Data: dst.Pix, Width: w, Height: h, HasAlpha: translucent(dst.Pix)}, nil
}

// translucent reports whether any pixel has alpha below 255.
func translucent(pix []byte) bool {
	for i := 3; i < len(pix); i += 4 {
		if pix[i] != 0xff {
			return true
		}
	}
	return false
}

// modelDepth returns the bits per channel of a decoder's color model.
func modelDepth(m color.Model) int {
	switch m {
	case color.RGBA64Model, color.NRGBA64Model, color.Gray16Model, color.Alpha16Model:
		return 16
	}
	return 8
}

// modelHasAlpha reports whether a header declares an alpha channel.
// Truecolor files without alpha decode to color.RGBAModel in the image
// packages, so only straight-alpha models and transparent palettes count.
func modelHasAlpha(m color.Model) bool {
	switch m {
	case color.NRGBAModel, color.NRGBA64Model, color.AlphaModel, color.Alpha16Model, color.NYCbCrAModel:
		return true
	}
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// nrgba wraps the pixel buffer without copying it.
func (img Image) nrgba() (*image.NRGBA, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", img.Width, img.Height)
	}
	if want := img.Width * img.Height * 4; len(img.Data) != want {
		return nil, fmt.Errorf("pixel buffer has %d bytes, want %d", len(img.Data), want)
	}
	return &image.NRGBA{
		Pix:    img.Data,
		Stride: img.Width * 4,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}, nil
}
