package chart

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"plant-backend/internal/models"
)

// charted features; light level is on a different scale and left out
var chartFeatures = []int{models.Temperature, models.Humidity, models.SoilMoisture}

// Sink renders each device's latest forecast as a PNG line chart
type Sink struct {
	outputDir string
}

// NewSink creates a chart sink writing into dir
func NewSink(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chart dir: %w", err)
	}
	return &Sink{outputDir: dir}, nil
}

// Path returns the chart file of a device
func (s *Sink) Path(deviceID string) string {
	return filepath.Join(s.outputDir, sanitize(deviceID)+"_forecast.png")
}

// WriteForecasts draws one chart per device present in results
func (s *Sink) WriteForecasts(ctx context.Context, results []models.ForecastResult) error {
	byDevice := make(map[string][]models.ForecastResult)
	var order []string
	for _, r := range results {
		if _, ok := byDevice[r.DeviceID]; !ok {
			order = append(order, r.DeviceID)
		}
		byDevice[r.DeviceID] = append(byDevice[r.DeviceID], r)
	}

	for _, deviceID := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.render(deviceID, byDevice[deviceID]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) render(deviceID string, results []models.ForecastResult) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s forecast (generation %s)", deviceID, shortID(results[0].GenerationID))
	p.X.Label.Text = "hours ahead"
	p.Y.Label.Text = "value"
	p.Add(plotter.NewGrid())

	for i, f := range chartFeatures {
		pts := make(plotter.XYs, 0, len(results))
		for _, r := range results {
			pts = append(pts, plotter.XY{X: r.HoursAhead, Y: r.Predicted[f]})
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return fmt.Errorf("failed to build %s series for %s: %w", models.FeatureNames[f], deviceID, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.5)
		points.Color = plotutil.Color(i)
		points.Shape = plotutil.Shape(i)
		p.Add(line, points)
		p.Legend.Add(models.FeatureNames[f], line, points)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(8*vg.Inch, 4*vg.Inch, s.Path(deviceID)); err != nil {
		return fmt.Errorf("failed to save forecast chart for %s: %w", deviceID, err)
	}
	return nil
}

func sanitize(deviceID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, deviceID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
