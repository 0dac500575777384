package app

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/golang/freetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/roman-kulish/temfield/internal/sweep"
)

const (
	dpi     float64 = 72
	hinting string  = "full"
	size    float64 = 14
	spacing float64 = 1.3
)

type Annotator struct {
	context *freetype.Context
}

func NewAnnotator() (*Annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(size)
	context.SetSrc(image.Black)

	switch hinting {
	case "full":
		context.SetHinting(font.HintingFull)
	default:
		context.SetHinting(font.HintingNone)
	}

	return &Annotator{context: context}, nil
}

func (a *Annotator) Annotate(img *image.RGBA, area image.Rectangle, x, y Axis, data *FieldData) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing X scale", func() error { return a.drawXScale(area, x) }},
		{"drawing Y scale", func() error { return a.drawYScale(area, y) }},
		{"drawing info", func() error { return a.drawInfo(img, data) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	return nil
}

func (a *Annotator) drawXScale(area image.Rectangle, x Axis) error {
	ticks := x.Ticks(10)

	// a logarithmic axis over many decades has too many ticks to label
	every := max(1, len(ticks)/10)
	for i, f := range ticks {
		if i%every != 0 {
			continue
		}
		px := x.Pos(f, area.Min.X, area.Max.X)
		pt := freetype.Pt(px-20, area.Max.Y+18)
		if _, err := a.context.DrawString(sweep.FormatHz(f), pt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Annotator) drawYScale(area image.Rectangle, y Axis) error {
	for _, v := range y.Ticks(yTicks) {
		px := y.Pos(v, area.Max.Y, area.Min.Y)
		pt := freetype.Pt(5, px+5)
		if _, err := a.context.DrawString(fmt.Sprintf("%.1f V/m", v), pt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Annotator) drawInfo(img *image.RGBA, data *FieldData) error {
	session := data.Session

	eut, _, _ := strings.Cut(session.EUTDescription, "\n")
	lines := []string{
		fmt.Sprintf("Run %s, started %s", session.RunID, session.StartTime.Local().Format(time.DateTime)),
		fmt.Sprintf("EUT: %s", eut),
		fmt.Sprintf("Target field: %.2f V/m, AM %.0f %%", session.TargetField, session.AM),
		fmt.Sprintf("Band: %s to %s, %d points passed, %d errors",
			sweep.FormatHz(data.FrequencyMin), sweep.FormatHz(data.FrequencyMax), data.Passed, data.Errors),
	}

	imgSize := img.Bounds().Size()
	pt := freetype.Pt(marginLeft, imgSize.Y-marginBottom+50)
	for _, s := range lines {
		if _, err := a.context.DrawString(s, pt); err != nil {
			return err
		}
		pt.Y += a.context.PointToFixed(size * spacing)
	}
	return nil
}
