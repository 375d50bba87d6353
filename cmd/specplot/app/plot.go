package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/roman-kulish/spectess/internal/photometer"
)

const (
	dpi            = 96.0
	fontSize       = 11.0
	tickMarkLength = 5
	pixelsPerLabel = 120.0
	markerRadius   = 3

	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 90
	defaultBottomBorder = 70
	defaultRightBorder  = 40
)

var (
	gridColor = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}

	roleColors = map[photometer.Role]color.RGBA{
		photometer.RoleReference: {R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
		photometer.RoleTest:      {R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	}
)

// BorderConfig defines the sizes of white space around the plot area
type BorderConfig struct {
	Top    int // Space for the title
	Left   int // Space for the frequency scale
	Bottom int // Space for the wavelength scale and legend
	Right  int // Right padding
}

// RenderConfig holds the plot rendering options
type RenderConfig struct {
	Width         int     // Image width in pixels
	Height        int     // Image height in pixels
	FontSize      float64 // Font size in points
	NoAnnotations bool    // Draw curves only
	BorderConfig  BorderConfig
}

// ResponseRenderer plots the spectral response curves of a session
type ResponseRenderer struct {
	config RenderConfig
}

func NewResponseRenderer(config RenderConfig) *ResponseRenderer {
	if config.Width == 0 {
		config.Width = defaultWidth
	}
	if config.Height == 0 {
		config.Height = defaultHeight
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &ResponseRenderer{config: config}
}

// plotScale maps wavelengths and frequencies onto the plot area
type plotScale struct {
	area    image.Rectangle
	waveMin float64
	waveMax float64
	freqMin float64
	freqMax float64
}

func newPlotScale(area image.Rectangle, data *ResponseData) plotScale {
	s := plotScale{
		area:    area,
		waveMin: float64(data.WavelengthMin),
		waveMax: float64(data.WavelengthMax),
	}
	s.freqMin, s.freqMax = data.FrequencyRange()

	if s.waveMax-s.waveMin < 10 {
		s.waveMin -= 5
		s.waveMax += 5
	}

	pad := (s.freqMax - s.freqMin) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(s.freqMax)*0.01, 0.5)
	}
	s.freqMin -= pad
	s.freqMax += pad
	return s
}

func (s plotScale) x(wavelength float64) int {
	ratio := (wavelength - s.waveMin) / (s.waveMax - s.waveMin)
	return s.area.Min.X + int(math.Round(ratio*float64(s.area.Dx()-1)))
}

func (s plotScale) y(freq float64) int {
	ratio := (freq - s.freqMin) / (s.freqMax - s.freqMin)
	return s.area.Max.Y - 1 - int(math.Round(ratio*float64(s.area.Dy()-1)))
}

// Render draws the response curves of data
func (r *ResponseRenderer) Render(data *ResponseData) (*image.RGBA, error) {
	if data.Empty() {
		return nil, fmt.Errorf("session %d has no samples to plot", data.Session)
	}

	img := image.NewRGBA(image.Rect(0, 0, r.config.Width, r.config.Height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	area := image.Rect(
		r.config.BorderConfig.Left,
		r.config.BorderConfig.Top,
		r.config.Width-r.config.BorderConfig.Right,
		r.config.Height-r.config.BorderConfig.Bottom,
	)
	if area.Dx() < 2 || area.Dy() < 2 {
		return nil, fmt.Errorf("image %dx%d leaves no room for the plot", r.config.Width, r.config.Height)
	}
	scale := newPlotScale(area, data)

	if !r.config.NoAnnotations {
		ann, err := newAnnotator(r.config.FontSize)
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		if err = ann.annotate(img, scale, data); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	drawFrame(img, area)
	for _, role := range data.Roles() {
		drawCurve(img, scale, data.Curve(role), roleColors[role])
	}

	return img, nil
}

func drawFrame(img *image.RGBA, area image.Rectangle) {
	for x := area.Min.X; x < area.Max.X; x++ {
		img.Set(x, area.Min.Y, color.Black)
		img.Set(x, area.Max.Y-1, color.Black)
	}
	for y := area.Min.Y; y < area.Max.Y; y++ {
		img.Set(area.Min.X, y, color.Black)
		img.Set(area.Max.X-1, y, color.Black)
	}
}

func drawCurve(img *image.RGBA, scale plotScale, points []Point, c color.Color) {
	for i, p := range points {
		x, y := scale.x(float64(p.Wavelength)), scale.y(p.Median)
		if i > 0 {
			prev := points[i-1]
			drawLine(img, scale.x(float64(prev.Wavelength)), scale.y(prev.Median), x, y, c)
		}
		for dy := -markerRadius; dy <= markerRadius; dy++ {
			for dx := -markerRadius; dx <= markerRadius; dx++ {
				img.Set(x+dx, y+dy, c)
			}
		}
	}
}

// drawLine draws a two pixel wide line using Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}

	e := dx + dy
	for {
		img.Set(x0, y0, c)
		img.Set(x0, y0+1, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type annotator struct {
	context  *freetype.Context
	fontFace font.Face
}

func newAnnotator(size float64) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(size)
	ctx.SetHinting(font.HintingFull)
	ctx.SetSrc(image.Black)

	return &annotator{
		context:  ctx,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    size,
			DPI:     dpi,
			Hinting: font.HintingFull,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, scale plotScale, data *ResponseData) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func(*image.RGBA, plotScale, *ResponseData) error
	}{
		{"drawing wavelength scale", a.drawWavelengthScale},
		{"drawing frequency scale", a.drawFrequencyScale},
		{"drawing title", a.drawTitle},
		{"drawing legend", a.drawLegend},
	}
	for _, op := range ops {
		if err := op.fn(img, scale, data); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}
	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawWavelengthScale(img *image.RGBA, scale plotScale, _ *ResponseData) error {
	step := calculateNiceWavelengthStep(scale.waveMax-scale.waveMin, scale.area.Dx())
	textY := scale.area.Max.Y + tickMarkLength + a.fontHeight() + 2

	for w := math.Ceil(scale.waveMin/step) * step; w <= scale.waveMax; w += step {
		x := scale.x(w)

		// grid line and tick mark
		for y := scale.area.Min.Y; y < scale.area.Max.Y; y++ {
			img.Set(x, y, gridColor)
		}
		for y := scale.area.Max.Y; y < scale.area.Max.Y+tickMarkLength; y++ {
			img.Set(x, y, color.Black)
		}

		label := fmt.Sprintf("%d nm", int(w))
		width := font.MeasureString(a.fontFace, label).Round()
		if _, err := a.context.DrawString(label, freetype.Pt(x-width/2, textY)); err != nil {
			return fmt.Errorf("drawing wavelength label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawFrequencyScale(img *image.RGBA, scale plotScale, _ *ResponseData) error {
	step := calculateNiceFrequencyStep(scale.freqMax-scale.freqMin, scale.area.Dy())
	metrics := a.fontFace.Metrics()

	for f := math.Ceil(scale.freqMin/step) * step; f <= scale.freqMax; f += step {
		y := scale.y(f)

		for x := scale.area.Min.X; x < scale.area.Max.X; x++ {
			img.Set(x, y, gridColor)
		}
		for x := scale.area.Min.X - tickMarkLength; x < scale.area.Min.X; x++ {
			img.Set(x, y, color.Black)
		}

		label := formatFrequency(f)
		width := font.MeasureString(a.fontFace, label).Round()
		textY := y + a.fontHeight()/2 - metrics.Descent.Round()
		pt := freetype.Pt(scale.area.Min.X-tickMarkLength-4-width, textY)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing frequency label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawTitle(_ *image.RGBA, scale plotScale, data *ResponseData) error {
	title := fmt.Sprintf("Session %d: %s - %s, low median frequency per wavelength",
		data.Session,
		data.TimestampStart.Format(time.DateTime),
		data.TimestampEnd.Format(time.DateTime))

	textY := scale.area.Min.Y - (defaultTopBorder-a.fontHeight())/2
	_, err := a.context.DrawString(title, freetype.Pt(scale.area.Min.X, textY))
	return err
}

func (a *annotator) drawLegend(img *image.RGBA, scale plotScale, data *ResponseData) error {
	x := scale.area.Min.X
	textY := img.Bounds().Max.Y - a.fontHeight()/2

	for _, role := range data.Roles() {
		c := roleColors[role]
		for dy := -markerRadius * 2; dy <= 0; dy++ {
			for dx := 0; dx <= markerRadius*4; dx++ {
				img.Set(x+dx, textY+dy-2, c)
			}
		}
		x += markerRadius*4 + 6

		label := role.String()
		if name := data.Photometers[role]; name != "" {
			label += " " + name
		}
		label += fmt.Sprintf(" (%d points)", len(data.Curve(role)))
		pt, err := a.context.DrawString(label, freetype.Pt(x, textY))
		if err != nil {
			return fmt.Errorf("drawing legend label: %w", err)
		}
		x = pt.X.Round() + 24
	}
	return nil
}

func calculateNiceWavelengthStep(span float64, pixels int) float64 {
	steps := []float64{1, 2, 5, 10, 25, 50, 100, 200}

	target := span / (float64(pixels) / pixelsPerLabel)
	for _, step := range steps {
		if step >= target {
			return step
		}
	}
	return steps[len(steps)-1]
}

func calculateNiceFrequencyStep(span float64, pixels int) float64 {
	target := span / (float64(pixels) / (pixelsPerLabel / 2))
	if target <= 0 {
		return 1
	}

	magnitude := math.Pow(10, math.Floor(math.Log10(target)))
	for _, m := range []float64{1, 2, 5, 10} {
		if step := m * magnitude; step >= target {
			return step
		}
	}
	return 10 * magnitude
}

func formatFrequency(freq float64) string {
	value, prefix := humanize.ComputeSI(freq)
	return fmt.Sprintf("%s %sHz", humanize.FtoaWithDigits(value, 3), prefix)
}
