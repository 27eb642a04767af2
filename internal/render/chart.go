package render

import (
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/discfield/internal/trajectory"
)

var (
	provisionalColor = color.RGBA{R: 0xf2, G: 0xc8, B: 0x1f, A: 0xff}
	finalColor       = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	normalColor      = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	leadColor        = color.RGBA{R: 0x7f, G: 0x7f, B: 0x7f, A: 0xff}
)

func hex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// axisExtent returns the x and y ranges to plot: the region when known,
// widened to include any lead that runs past it.
func axisExtent(st SceneState) (minX, maxX, minY, maxY float64) {
	if st.Region != nil {
		maxX = float64(st.Region.Width() - 1)
		maxY = float64(st.Region.Height() - 1)
	}
	grow := func(v trajectory.Vec) {
		minX, maxX = min(minX, v.X), max(maxX, v.X)
		minY, maxY = min(minY, v.Y), max(maxY, v.Y)
	}
	for _, s := range st.Segments {
		grow(s.Start)
		grow(s.End)
	}
	for _, h := range st.Highlights {
		grow(trajectory.VecOf(h.Point))
	}
	if maxX == minX {
		maxX = minX + 1
	}
	if maxY == minY {
		maxY = minY + 1
	}
	return minX, maxX, minY, maxY
}

// ChartPage writes the scene as an interactive go-echarts HTML page.
// Highlights are scatter series and each segment is its own line series.
func ChartPage(st SceneState, w io.Writer) error {
	minX, maxX, minY, maxY := axisExtent(st)

	subtitle := fmt.Sprintf("highlights=%d segments=%d", len(st.Highlights), len(st.Segments))
	if st.RunID != "" {
		subtitle = fmt.Sprintf("run=%s %s", st.RunID, subtitle)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Disc Field", Theme: "dark", Width: "900px", Height: "680px"}),
		charts.WithTitleOpts(opts.Title{Title: "Disc Trajectory", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: minX, Max: maxX, Name: "x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: minY, Max: maxY, Name: "y (px)", NameLocation: "middle", NameGap: 30, Inverse: opts.Bool(true)}),
	)

	var prov, final []opts.ScatterData
	for _, h := range st.Highlights {
		d := opts.ScatterData{Value: []interface{}{h.Point.X, h.Point.Y}}
		if h.Kind == Final {
			final = append(final, d)
		} else {
			prov = append(prov, d)
		}
	}
	scatter.AddSeries("provisional", prov,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: hex(provisionalColor)}))
	scatter.AddSeries("final", final,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: hex(finalColor)}))

	if len(st.Segments) > 0 {
		line := charts.NewLine()
		for i, s := range st.Segments {
			c, style := normalColor, "solid"
			if s.Kind == trajectory.Lead {
				c, style = leadColor, "dashed"
			}
			data := []opts.LineData{
				{Value: []interface{}{s.Start.X, s.Start.Y}},
				{Value: []interface{}{s.End.X, s.End.Y}},
			}
			line.AddSeries(fmt.Sprintf("%s %d", s.Kind, i), data,
				charts.WithLineStyleOpts(opts.LineStyle{Color: hex(c), Width: 2, Type: style}),
				charts.WithItemStyleOpts(opts.ItemStyle{Color: hex(c)}))
		}
		scatter.Overlap(line)
	}

	return scatter.Render(w)
}

// PlotPNG writes the scene as a static PNG of the given size.
func PlotPNG(st SceneState, w io.Writer, width, height vg.Length) error {
	minX, maxX, minY, maxY := axisExtent(st)

	p := plot.New()
	p.Title.Text = "Disc Trajectory"
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.X.Min, p.X.Max = minX, maxX
	// image rows grow downwards; flip so the plot matches the camera view
	p.Y.Min, p.Y.Max = -maxY, -minY
	p.Add(plotter.NewGrid())

	flip := func(v trajectory.Vec) plotter.XY { return plotter.XY{X: v.X, Y: -v.Y} }

	for _, s := range st.Segments {
		l, err := plotter.NewLine(plotter.XYs{flip(s.Start), flip(s.End)})
		if err != nil {
			return fmt.Errorf("failed to build segment line: %w", err)
		}
		l.Width = vg.Points(2)
		l.Color = normalColor
		if s.Kind == trajectory.Lead {
			l.Color = leadColor
			l.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		}
		p.Add(l)
	}

	for _, kind := range []HighlightKind{Provisional, Final} {
		var pts plotter.XYs
		for _, h := range st.Highlights {
			if h.Kind == kind {
				pts = append(pts, flip(trajectory.VecOf(h.Point)))
			}
		}
		if len(pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("failed to build %s scatter: %w", kind, err)
		}
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(3)
		sc.GlyphStyle.Color = provisionalColor
		if kind == Final {
			sc.GlyphStyle.Color = finalColor
			sc.GlyphStyle.Radius = vg.Points(5)
		}
		p.Add(sc)
		p.Legend.Add(kind.String(), sc)
	}

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
