package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/roman-kulish/temfield/internal/result"
)

const (
	minWidth  = 400
	minHeight = 300

	marginLeft   = 90
	marginRight  = 30
	marginTop    = 30
	marginBottom = 140

	fieldHeadroom = 1.2
	yTicks        = 6
)

var (
	BackgroundColor = color.White
	FrameColor      = color.RGBA{R: 0x60, G: 0x60, B: 0x60, A: 0xff}
	GridColor       = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	TargetColor     = color.RGBA{R: 0x1f, G: 0x5f, B: 0xbf, A: 0xff}
	FieldColor      = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
	PassedColor     = color.RGBA{R: 0x2e, G: 0x9e, B: 0x44, A: 0xff}
	ErrorColor      = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
)

type RenderConfig struct {
	Width         int
	Height        int
	LinearAxis    bool
	NoAnnotations bool
}

type FieldRenderer struct {
	config    RenderConfig
	annotator *Annotator
}

func NewFieldRenderer(config RenderConfig) (*FieldRenderer, error) {
	if config.Width < minWidth || config.Height < minHeight {
		return nil, fmt.Errorf("image must be at least %dx%d pixels", minWidth, minHeight)
	}

	r := FieldRenderer{config: config}
	if !config.NoAnnotations {
		annotator, err := NewAnnotator()
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		r.annotator = annotator
	}
	return &r, nil
}

// plotArea is the rectangle the data is drawn into
func (r *FieldRenderer) plotArea() image.Rectangle {
	return image.Rect(marginLeft, marginTop, r.config.Width-marginRight, r.config.Height-marginBottom)
}

func (r *FieldRenderer) axes(data *FieldData) (x, y Axis) {
	x = Axis{Min: data.FrequencyMin, Max: data.FrequencyMax, Log: !r.config.LinearAxis}
	y = Axis{Min: 0, Max: data.FieldMax * fieldHeadroom}
	return x, y
}

func (r *FieldRenderer) Render(data *FieldData) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.Width, r.config.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(BackgroundColor), image.Point{}, draw.Src)

	area := r.plotArea()
	xAxis, yAxis := r.axes(data)

	xPos := func(f float64) int { return xAxis.Pos(f, area.Min.X, area.Max.X) }
	yPos := func(v float64) int { return yAxis.Pos(v, area.Max.Y, area.Min.Y) }

	for _, f := range xAxis.Ticks(10) {
		drawLine(img, xPos(f), area.Min.Y, xPos(f), area.Max.Y, GridColor)
	}
	for _, v := range yAxis.Ticks(yTicks) {
		drawLine(img, area.Min.X, yPos(v), area.Max.X, yPos(v), GridColor)
	}

	drawRect(img, area, FrameColor)

	if target := data.Session.TargetField; target > 0 {
		for x := area.Min.X; x < area.Max.X; x += 12 {
			drawLine(img, x, yPos(target), min(x+6, area.Max.X), yPos(target), TargetColor)
		}
	}

	var prev *image.Point
	for _, p := range data.Points {
		if p.Field == nil {
			prev = nil
			continue
		}
		pt := image.Pt(xPos(p.Frequency), yPos(*p.Field))
		if prev != nil {
			drawLine(img, prev.X, prev.Y, pt.X, pt.Y, FieldColor)
		}
		prev = &pt
	}

	for _, p := range data.Points {
		if p.Field == nil {
			drawMarker(img, xPos(p.Frequency), area.Max.Y-4, 3, markerColor(p.Status))
			continue
		}
		drawMarker(img, xPos(p.Frequency), yPos(*p.Field), 2, markerColor(p.Status))
	}

	if r.annotator != nil {
		if err := r.annotator.Annotate(img, area, xAxis, yAxis, data); err != nil {
			return nil, fmt.Errorf("annotating: %w", err)
		}
	}

	return img, nil
}

func markerColor(status result.Status) color.Color {
	if status == result.StatusPassed {
		return PassedColor
	}
	return ErrorColor
}

func drawMarker(img *image.RGBA, x, y, radius int, c color.Color) {
	draw.Draw(img, image.Rect(x-radius, y-radius, x+radius+1, y+radius+1), image.NewUniform(c), image.Point{}, draw.Src)
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	drawLine(img, r.Min.X, r.Min.Y, r.Max.X, r.Min.Y, c)
	drawLine(img, r.Min.X, r.Max.Y, r.Max.X, r.Max.Y, c)
	drawLine(img, r.Min.X, r.Min.Y, r.Min.X, r.Max.Y, c)
	drawLine(img, r.Max.X, r.Min.Y, r.Max.X, r.Max.Y, c)
}

// drawLine draws a line with Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx, sx := abs(x1-x0), 1
	if x0 > x1 {
		sx = -1
	}
	dy, sy := -abs(y1-y0), 1
	if y0 > y1 {
		sy = -1
	}

	e := dx + dy
	for {
		img.Set(x0, y0, c)
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
