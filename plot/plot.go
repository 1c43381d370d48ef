// Package plot renders a range of records to a PNG: temperature in red,
// humidity in blue, shared time axis. Gap markers break the lines so
// sensorless periods show as holes rather than interpolated slopes.
package plot

import (
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/mweigel/dhtbot/reading"
)

var (
	tempColor = color.RGBA{R: 0xd6, G: 0x2c, B: 0x2c, A: 0xff}
	humColor  = color.RGBA{R: 0x2c, G: 0x56, B: 0xd6, A: 0xff}
)

type Options struct {
	// Width and Height of the image in inches.
	Width  float64
	Height float64
	DPI    int
}

// Render draws records to a PNG at path.
func Render(records []reading.Record, path string, opts Options) error {
	p := plot.New()
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02\n15:04"}
	p.Y.Label.Text = "°C / %"
	p.Add(plotter.NewGrid())

	tempSegs := segments(records, func(r reading.Record) float64 { return r.Temperature })
	humSegs := segments(records, func(r reading.Record) float64 { return r.Humidity })

	for i, seg := range tempSegs {
		line, err := plotter.NewLine(seg)
		if err != nil {
			return fmt.Errorf("plot: %v", err)
		}
		line.Color = tempColor
		p.Add(line)
		if i == 0 {
			p.Legend.Add("Temperature (°C)", line)
		}
	}
	for i, seg := range humSegs {
		line, err := plotter.NewLine(seg)
		if err != nil {
			return fmt.Errorf("plot: %v", err)
		}
		line.Color = humColor
		p.Add(line)
		if i == 0 {
			p.Legend.Add("Humidity (%)", line)
		}
	}
	p.Legend.Top = true

	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(opts.Width)*vg.Inch, vg.Length(opts.Height)*vg.Inch),
		vgimg.UseDPI(opts.DPI),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("plot: %v", err)
	}
	png := vgimg.PngCanvas{Canvas: c}
	if _, err := png.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("plot: %v", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("plot: %v", err)
	}

	return nil
}

// segments splits records into runs of consecutive non-gap records, each a
// separately drawn line.
func segments(records []reading.Record, value func(reading.Record) float64) []plotter.XYs {
	var segs []plotter.XYs
	var cur plotter.XYs

	for _, r := range records {
		if r.IsGap() {
			if len(cur) > 0 {
				segs = append(segs, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{
			X: float64(r.Timestamp.Unix()),
			Y: value(r),
		})
	}
	if len(cur) > 0 {
		segs = append(segs, cur)
	}

	return segs
}
