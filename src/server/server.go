// Package server assembles the gin engine: middleware chain and route table
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apimgr/weatherapi/src/config"
	"github.com/apimgr/weatherapi/src/database"
	"github.com/apimgr/weatherapi/src/server/auth"
	"github.com/apimgr/weatherapi/src/server/handler"
	"github.com/apimgr/weatherapi/src/server/middleware"
	services "github.com/apimgr/weatherapi/src/server/service"
	"github.com/apimgr/weatherapi/src/utils"
)

// Deps are the collaborators the routes are built from
type Deps struct {
	Config   *config.Config
	Logger   *utils.Logger
	DB       *database.DB
	Gate     *auth.Gate
	Accounts *services.AccountService
	Weather  *services.WeatherService
	Charts   *services.ChartService
	Tasks    handler.TaskReporter
	Version  string
}

// NewRouter builds the engine with every route mounted
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()

	// Trust reverse proxy headers from private networks only
	r.SetTrustedProxies([]string{"127.0.0.1", "::1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"})

	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLogger(d.Logger))
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.BodySizeLimit(middleware.DefaultMaxBodySize))
	r.Use(cors.New(corsConfig(d.Config.Server.CORSOrigins)))

	health := handler.NewHealthHandler(d.DB, d.Tasks, d.Version)
	r.GET("/healthz", health.HandleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limit := middleware.RateLimit(d.Config.Server.RateLimit, time.Minute)

	wh := handler.NewWeatherHandler(d.Weather, d.Charts, d.Logger)
	weather := r.Group("/weather", limit)
	{
		weather.GET("/current/:city", wh.HandleCurrent)
		weather.GET("/forecast/:city", wh.HandleForecast)
		weather.GET("/forecast/chart/:city", wh.HandleForecastChart)
		weather.GET("/pollution/forecast/:city", wh.HandlePollutionChart)
		weather.GET("/chart/cities", wh.HandleCitiesChart)
		weather.POST("/chart/cities", wh.HandleCitiesChart)
		weather.GET("/map/cities", wh.HandleCitiesMap)
		weather.POST("/map/cities", wh.HandleCitiesMap)
	}

	api := r.Group("/api/v1", limit)
	{
		api.GET("/current/:city", wh.HandleCurrent)
		api.GET("/forecast/:city", wh.HandleForecast)
		api.GET("/pollution/:city", wh.HandlePollution)
	}

	uh := handler.NewUsersHandler(d.Accounts, d.Logger)
	users := r.Group("/users", limit, middleware.NoStore())
	{
		users.POST("/signup", uh.HandleSignup)
		users.POST("/login", uh.HandleLogin)

		authed := users.Group("", middleware.RequireToken(d.Gate, d.Logger))
		authed.POST("/logout", uh.HandleLogout)
		authed.POST("/items/new", uh.HandleCreateItem)
		authed.DELETE("/items/:id", uh.HandleDeleteItem)
		authed.GET("/items", uh.HandleListItems)
		authed.POST("/send", uh.HandleSend)
		authed.GET("/:user_token/:item_id", uh.HandleRedeem)
	}

	r.NoRoute(func(c *gin.Context) {
		handler.RespondError(c, http.StatusNotFound, handler.ErrNotFound, "Not found")
	})

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", middleware.HeaderToken},
		ExposeHeaders: []string{"Content-Length", middleware.HeaderXRequestID},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
