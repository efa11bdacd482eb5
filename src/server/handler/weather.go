package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/weatherapi/src/renderer"
	services "github.com/apimgr/weatherapi/src/server/service"
	"github.com/apimgr/weatherapi/src/utils"
)

// WeatherHandler serves /weather and /api/v1
type WeatherHandler struct {
	weather *services.WeatherService
	charts  *services.ChartService
	logger  *utils.Logger
}

// NewWeatherHandler creates the weather handler
func NewWeatherHandler(weather *services.WeatherService, charts *services.ChartService, logger *utils.Logger) *WeatherHandler {
	return &WeatherHandler{weather: weather, charts: charts, logger: logger}
}

// City is one entry of a chart request
type City struct {
	Name string `json:"name"`
}

// CityList is the POST body of the multi-city chart endpoints
type CityList struct {
	Cities []City `json:"cities"`
}

// HandleCurrent handles GET /weather/current/:city and /api/v1/current/:city
func (h *WeatherHandler) HandleCurrent(c *gin.Context) {
	current, err := h.weather.Current(c.Request.Context(), c.Param("city"), c.Query("units"))
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	h.logger.Debug("place: %s | lat: %f | lon: %f", c.Param("city"), current.Latitude, current.Longitude)

	if wantsText(c) {
		units, _ := services.NormalizeUnits(c.Query("units"))
		c.String(http.StatusOK, renderer.OneLine(current, units, renderer.ParseFormat(c.Query("format"))))
		return
	}
	c.JSON(http.StatusOK, current)
}

// wantsText reports whether the client asked for the one-line text form,
// with ?format= or Accept: text/plain
func wantsText(c *gin.Context) bool {
	if _, ok := c.GetQuery("format"); ok {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "text/plain")
}

// HandleForecast handles GET /weather/forecast/:city and /api/v1/forecast/:city
func (h *WeatherHandler) HandleForecast(c *gin.Context) {
	points, err := h.weather.Forecast(c.Request.Context(), c.Param("city"), c.Query("units"))
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

// HandlePollution handles GET /api/v1/pollution/:city
func (h *WeatherHandler) HandlePollution(c *gin.Context) {
	points, err := h.weather.PollutionForecast(c.Request.Context(), c.Param("city"))
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

// HandleForecastChart handles GET /weather/forecast/chart/:city
func (h *WeatherHandler) HandleForecastChart(c *gin.Context) {
	path, err := h.charts.ForecastChart(c.Request.Context(), c.Param("city"))
	h.serveChart(c, path, err)
}

// HandlePollutionChart handles GET /weather/pollution/forecast/:city
func (h *WeatherHandler) HandlePollutionChart(c *gin.Context) {
	path, err := h.charts.PollutionChart(c.Request.Context(), c.Param("city"))
	h.serveChart(c, path, err)
}

// HandleCitiesChart handles GET and POST /weather/chart/cities
func (h *WeatherHandler) HandleCitiesChart(c *gin.Context) {
	cities, ok := h.cities(c)
	if !ok {
		return
	}
	path, err := h.charts.CitiesChart(c.Request.Context(), cities)
	h.serveChart(c, path, err)
}

// HandleCitiesMap handles GET and POST /weather/map/cities
func (h *WeatherHandler) HandleCitiesMap(c *gin.Context) {
	cities, ok := h.cities(c)
	if !ok {
		return
	}
	path, err := h.charts.CitiesMap(c.Request.Context(), cities)
	h.serveChart(c, path, err)
}

// cities reads the city list from a JSON body on POST, or from
// ?cities=a,b and repeated ?city= parameters on GET
func (h *WeatherHandler) cities(c *gin.Context) ([]string, bool) {
	var names []string

	if c.Request.Method == http.MethodPost {
		var body CityList
		if err := c.ShouldBindJSON(&body); err != nil {
			respondBadBody(c, err)
			return nil, false
		}
		for _, city := range body.Cities {
			names = append(names, city.Name)
		}
		return names, true
	}

	for _, list := range c.QueryArray("cities") {
		names = append(names, strings.Split(list, ",")...)
	}
	names = append(names, c.QueryArray("city")...)

	cleaned := names[:0]
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			cleaned = append(cleaned, name)
		}
	}
	return cleaned, true
}

func (h *WeatherHandler) serveChart(c *gin.Context, path string, err error) {
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.File(path)
}
