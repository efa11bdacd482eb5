package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/apimgr/weatherapi/src/server/metrics"
	"github.com/apimgr/weatherapi/src/utils"
)

// MaxChartCities bounds the fan-out of a cities chart
const MaxChartCities = 20

// WeatherSource is the part of WeatherService the charts need
type WeatherSource interface {
	Current(ctx context.Context, city, units string) (*CurrentWeather, error)
	Forecast(ctx context.Context, city, units string) ([]ForecastPoint, error)
	PollutionForecast(ctx context.Context, city string) ([]PollutionPoint, error)
}

// renderer is implemented by every go-echarts chart
type renderer interface {
	Render(w io.Writer) error
}

// ChartService renders weather data to HTML files under dir
type ChartService struct {
	weather WeatherSource
	dir     string
	logger  *utils.Logger
}

// NewChartService creates the chart service writing into dir
func NewChartService(weather WeatherSource, dir string, logger *utils.Logger) *ChartService {
	return &ChartService{weather: weather, dir: dir, logger: logger}
}

// Dir returns the stats directory
func (cs *ChartService) Dir() string {
	return cs.dir
}

// CitiesChart renders a bar chart of current temperatures
func (cs *ChartService) CitiesChart(ctx context.Context, cities []string) (string, error) {
	current, err := cs.currentFor(ctx, cities)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(current))
	data := make([]opts.BarData, 0, len(current))
	for _, w := range current {
		names = append(names, w.Place)
		data = append(data, opts.BarData{Name: w.Place, Value: w.Temperature})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Current temperature", Subtitle: current[0].Today}),
	)
	bar.SetXAxis(names).AddSeries("Feels like, °C", data)

	return cs.write("cities", bar)
}

// CitiesMap renders current temperatures as points on a world map
func (cs *ChartService) CitiesMap(ctx context.Context, cities []string) (string, error) {
	current, err := cs.currentFor(ctx, cities)
	if err != nil {
		return "", err
	}

	data := make([]opts.GeoData, 0, len(current))
	for _, w := range current {
		data = append(data, opts.GeoData{
			Name:  w.Place,
			Value: []float64{w.Longitude, w.Latitude, w.Temperature},
		})
	}

	geo := charts.NewGeo()
	geo.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Temperature map", Subtitle: current[0].Today}),
		charts.WithGeoComponentOpts(opts.GeoComponent{Map: "world"}),
	)
	geo.AddSeries("Feels like, °C", types.ChartScatter, data)

	return cs.write("map", geo)
}

// ForecastChart renders the 5 day forecast as a line chart
func (cs *ChartService) ForecastChart(ctx context.Context, city string) (string, error) {
	points, err := cs.weather.Forecast(ctx, city, UnitsMetric)
	if err != nil {
		return "", err
	}
	if len(points) == 0 {
		return "", fmt.Errorf("%w: empty forecast for %s", ErrUpstream, city)
	}

	dates := make([]string, 0, len(points))
	data := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		dates = append(dates, p.Date)
		data = append(data, opts.LineData{Value: p.Temperature})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Forecast", Subtitle: city}),
	)
	line.SetXAxis(dates).AddSeries("Feels like, °C", data)

	return cs.write("forecast", line)
}

// PollutionChart renders the air quality forecast as a line chart
func (cs *ChartService) PollutionChart(ctx context.Context, city string) (string, error) {
	points, err := cs.weather.PollutionForecast(ctx, city)
	if err != nil {
		return "", err
	}
	if len(points) == 0 {
		return "", fmt.Errorf("%w: empty pollution forecast for %s", ErrUpstream, city)
	}

	dates := make([]string, 0, len(points))
	aqi := make([]opts.LineData, 0, len(points))
	pm25 := make([]opts.LineData, 0, len(points))
	pm10 := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		dates = append(dates, p.Date)
		aqi = append(aqi, opts.LineData{Value: p.AQI})
		pm25 = append(pm25, opts.LineData{Value: p.PM25})
		pm10 = append(pm10, opts.LineData{Value: p.PM10})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Air pollution forecast", Subtitle: city}),
	)
	line.SetXAxis(dates).
		AddSeries("AQI", aqi).
		AddSeries("PM2.5", pm25).
		AddSeries("PM10", pm10)

	return cs.write("pollution", line)
}

// currentFor fetches current weather for each city concurrently, keeping
// input order
func (cs *ChartService) currentFor(ctx context.Context, cities []string) ([]*CurrentWeather, error) {
	cleaned := make([]string, 0, len(cities))
	for _, c := range cities {
		if c = strings.TrimSpace(c); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		return nil, &ValidationError{Fields: map[string]error{"cities": errors.New("at least one city is required")}}
	}
	if len(cleaned) > MaxChartCities {
		return nil, &ValidationError{Fields: map[string]error{"cities": fmt.Errorf("at most %d cities", MaxChartCities)}}
	}

	results := make([]*CurrentWeather, len(cleaned))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, city := range cleaned {
		g.Go(func() error {
			w, err := cs.weather.Current(gctx, city, UnitsMetric)
			if err != nil {
				return err
			}
			results[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// write renders chart into <dir>/<kind>-<ulid>.html and returns the path
func (cs *ChartService) write(kind string, chart renderer) (string, error) {
	if err := os.MkdirAll(cs.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create stats directory: %w", err)
	}

	path := filepath.Join(cs.dir, fmt.Sprintf("%s-%s.html", kind, ulid.Make().String()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create chart file: %w", err)
	}

	if err := chart.Render(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to render %s chart: %w", kind, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write chart file: %w", err)
	}

	metrics.RecordChart(kind)
	cs.logger.Debug("Rendered %s chart to %s", kind, path)
	return path, nil
}

// Sweep removes regular files in the stats directory modified more than
// minAge ago and leaves the directory itself. Younger files may still be
// waiting to be served. A missing directory is not an error.
func (cs *ChartService) Sweep(minAge time.Duration) (int, error) {
	entries, err := os.ReadDir(cs.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read stats directory: %w", err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if time.Since(info.ModTime()) < minAge {
			continue
		}
		if err := os.Remove(filepath.Join(cs.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
