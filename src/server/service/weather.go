package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/apimgr/weatherapi/src/config"
	"github.com/apimgr/weatherapi/src/server/metrics"
	"github.com/apimgr/weatherapi/src/utils"
)

// geocodeTTL is how long a resolved city is kept
const geocodeTTL = time.Hour

// Units accepted by OpenWeatherMap
const (
	UnitsMetric   = "metric"
	UnitsImperial = "imperial"
	UnitsStandard = "standard"
)

// WeatherService resolves cities and fetches OpenWeatherMap data
type WeatherService struct {
	client       *http.Client
	cache        *cache.Cache
	geoCache     *cache.Cache
	baseURL      string
	geocodingURL string
	userAgent    string
	logger       *utils.Logger
	now          func() time.Time

	mu     sync.RWMutex
	apiKey string
}

// Location is a geocoded place
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CurrentWeather is the reshaped current conditions payload
type CurrentWeather struct {
	Place       string  `json:"place"`
	Today       string  `json:"today"`
	Temperature float64 `json:"temperature"`
	Wind        float64 `json:"wind"`
	Description string  `json:"description"`
	Pressure    int     `json:"pressure"`
	Humidity    int     `json:"humidity"`

	Latitude  float64 `json:"-"`
	Longitude float64 `json:"-"`
}

// ForecastPoint is one 3-hour forecast step
type ForecastPoint struct {
	Date        string  `json:"date"`
	Temperature float64 `json:"temperature"`
}

// PollutionPoint is one hourly air quality forecast step
type PollutionPoint struct {
	Date string  `json:"date"`
	AQI  int     `json:"aqi"`
	PM25 float64 `json:"pm2_5"`
	PM10 float64 `json:"pm10"`
	NO2  float64 `json:"no2"`
	O3   float64 `json:"o3"`
	CO   float64 `json:"co"`
}

// nominatimResult is one entry of the geocoding search response
type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// owmCurrentResponse is the OpenWeatherMap /weather response
type owmCurrentResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Pressure  int     `json:"pressure"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

// owmForecastResponse is the OpenWeatherMap /forecast response
type owmForecastResponse struct {
	List []struct {
		DtTxt string `json:"dt_txt"`
		Main  struct {
			FeelsLike float64 `json:"feels_like"`
		} `json:"main"`
	} `json:"list"`
}

// owmPollutionResponse is the OpenWeatherMap /air_pollution/forecast response
type owmPollutionResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
		Components struct {
			CO   float64 `json:"co"`
			NO2  float64 `json:"no2"`
			O3   float64 `json:"o3"`
			PM25 float64 `json:"pm2_5"`
			PM10 float64 `json:"pm10"`
		} `json:"components"`
	} `json:"list"`
}

// NewWeatherService creates a new weather service instance
func NewWeatherService(cfg config.WeatherConfig, logger *utils.Logger) *WeatherService {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &WeatherService{
		client:       &http.Client{Transport: transport, Timeout: timeout},
		cache:        cache.New(ttl, 2*ttl),
		geoCache:     cache.New(geocodeTTL, 2*geocodeTTL),
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		geocodingURL: strings.TrimRight(cfg.GeocodingURL, "/"),
		userAgent:    cfg.UserAgent,
		logger:       logger,
		now:          time.Now,
		apiKey:       cfg.APIKey,
	}
}

// SetAPIKey swaps the OpenWeatherMap key, used by the config watcher
func (ws *WeatherService) SetAPIKey(key string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if key != ws.apiKey {
		ws.apiKey = key
		ws.cache.Flush()
	}
}

func (ws *WeatherService) key() string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.apiKey
}

// NormalizeUnits defaults empty units to metric and rejects unknown values
func NormalizeUnits(units string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(units)) {
	case "", UnitsMetric:
		return UnitsMetric, nil
	case UnitsImperial:
		return UnitsImperial, nil
	case UnitsStandard:
		return UnitsStandard, nil
	}
	return "", fmt.Errorf("%w: got %q", ErrInvalidUnits, units)
}

// Geocode resolves a city name to coordinates
func (ws *WeatherService) Geocode(ctx context.Context, city string) (*Location, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, fmt.Errorf("%w: empty city", ErrLocationNotFound)
	}

	cacheKey := "geo_" + strings.ToLower(city)
	if cached, found := ws.geoCache.Get(cacheKey); found {
		metrics.RecordCacheHit("geocode")
		return cached.(*Location), nil
	}
	metrics.RecordCacheMiss("geocode")

	params := url.Values{}
	params.Set("q", city)
	params.Set("format", "json")
	params.Set("limit", "1")

	var results []nominatimResult
	if err := ws.getJSON(ctx, "geocode", ws.geocodingURL+"/search?"+params.Encode(), &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, city)
	}

	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(results[0].Lon, 64)
	if errLat != nil || errLon != nil {
		return nil, fmt.Errorf("%w: bad coordinates for %s", ErrUpstream, city)
	}

	loc := &Location{Name: city, Latitude: lat, Longitude: lon}
	ws.geoCache.Set(cacheKey, loc, cache.DefaultExpiration)
	ws.logger.Info("place: %s | lat: %.4f | lon: %.4f", city, lat, lon)
	return loc, nil
}

// Current returns current conditions for city
func (ws *WeatherService) Current(ctx context.Context, city, units string) (*CurrentWeather, error) {
	units, err := NormalizeUnits(units)
	if err != nil {
		return nil, err
	}
	loc, err := ws.Geocode(ctx, city)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("current_%.4f_%.4f_%s", loc.Latitude, loc.Longitude, units)
	if cached, found := ws.cache.Get(cacheKey); found {
		metrics.RecordCacheHit("weather")
		return cached.(*CurrentWeather), nil
	}
	metrics.RecordCacheMiss("weather")

	var data owmCurrentResponse
	if err := ws.getJSON(ctx, "current", ws.owmURL("/data/2.5/weather", loc, units), &data); err != nil {
		return nil, err
	}

	weather := &CurrentWeather{
		Place:       data.Name,
		Today:       ws.now().Format("02-01-2006"),
		Temperature: data.Main.FeelsLike,
		Wind:        data.Wind.Speed,
		Pressure:    data.Main.Pressure,
		Humidity:    data.Main.Humidity,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
	}
	if weather.Place == "" {
		weather.Place = loc.Name
	}
	if len(data.Weather) > 0 {
		weather.Description = data.Weather[0].Description
	}

	ws.cache.Set(cacheKey, weather, cache.DefaultExpiration)
	return weather, nil
}

// Forecast returns the 5 day / 3 hour forecast of felt temperatures
func (ws *WeatherService) Forecast(ctx context.Context, city, units string) ([]ForecastPoint, error) {
	units, err := NormalizeUnits(units)
	if err != nil {
		return nil, err
	}
	loc, err := ws.Geocode(ctx, city)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("forecast_%.4f_%.4f_%s", loc.Latitude, loc.Longitude, units)
	if cached, found := ws.cache.Get(cacheKey); found {
		metrics.RecordCacheHit("weather")
		return cached.([]ForecastPoint), nil
	}
	metrics.RecordCacheMiss("weather")

	var data owmForecastResponse
	if err := ws.getJSON(ctx, "forecast", ws.owmURL("/data/2.5/forecast", loc, units), &data); err != nil {
		return nil, err
	}

	points := make([]ForecastPoint, 0, len(data.List))
	for _, entry := range data.List {
		points = append(points, ForecastPoint{Date: entry.DtTxt, Temperature: entry.Main.FeelsLike})
	}

	ws.logger.Info("city forecast: %s | lat: %.4f | lon: %.4f", city, loc.Latitude, loc.Longitude)
	ws.cache.Set(cacheKey, points, cache.DefaultExpiration)
	return points, nil
}

// PollutionForecast returns the hourly air quality forecast
func (ws *WeatherService) PollutionForecast(ctx context.Context, city string) ([]PollutionPoint, error) {
	loc, err := ws.Geocode(ctx, city)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("pollution_%.4f_%.4f", loc.Latitude, loc.Longitude)
	if cached, found := ws.cache.Get(cacheKey); found {
		metrics.RecordCacheHit("weather")
		return cached.([]PollutionPoint), nil
	}
	metrics.RecordCacheMiss("weather")

	var data owmPollutionResponse
	if err := ws.getJSON(ctx, "pollution", ws.owmURL("/data/2.5/air_pollution/forecast", loc, ""), &data); err != nil {
		return nil, err
	}

	points := make([]PollutionPoint, 0, len(data.List))
	for _, entry := range data.List {
		points = append(points, PollutionPoint{
			Date: time.Unix(entry.Dt, 0).UTC().Format("2006-01-02 15:04:05"),
			AQI:  entry.Main.AQI,
			PM25: entry.Components.PM25,
			PM10: entry.Components.PM10,
			NO2:  entry.Components.NO2,
			O3:   entry.Components.O3,
			CO:   entry.Components.CO,
		})
	}

	ws.cache.Set(cacheKey, points, cache.DefaultExpiration)
	return points, nil
}

func (ws *WeatherService) owmURL(path string, loc *Location, units string) string {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
	params.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
	if units != "" {
		params.Set("units", units)
	}
	params.Set("appid", ws.key())
	return ws.baseURL + path + "?" + params.Encode()
}

// getJSON performs a GET and decodes a 200 response into out. Anything else
// is ErrUpstream.
func (ws *WeatherService) getJSON(ctx context.Context, endpoint, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if ws.userAgent != "" {
		req.Header.Set("User-Agent", ws.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := ws.client.Do(req)
	if err != nil {
		metrics.RecordUpstream(endpoint, "error", time.Since(start))
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrUpstream, endpoint, err)
	}
	defer resp.Body.Close()
	metrics.RecordUpstream(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		ws.logger.Warn("Upstream %s returned %d", endpoint, resp.StatusCode)
		return fmt.Errorf("%w: %s returned status %d", ErrUpstream, endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: failed to parse response: %v", ErrUpstream, endpoint, err)
	}
	return nil
}
