package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apimgr/weatherapi/src/config"
	"github.com/apimgr/weatherapi/src/database"
	"github.com/apimgr/weatherapi/src/scheduler"
	"github.com/apimgr/weatherapi/src/server/auth"
	"github.com/apimgr/weatherapi/src/server/blacklist"
	models "github.com/apimgr/weatherapi/src/server/model"
	services "github.com/apimgr/weatherapi/src/server/service"
	"github.com/apimgr/weatherapi/src/server/token"
	"github.com/apimgr/weatherapi/src/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func fakeWeatherAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "Atlantis" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"lat":"51.5073","lon":"-0.1276","display_name":"London"}]`))
	})
	mux.HandleFunc("/data/2.5/weather", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"London","main":{"temp":12,"feels_like":10.5,"pressure":1012,"humidity":81},
			"wind":{"speed":4.1},"weather":[{"description":"light rain"}]}`))
	})
	mux.HandleFunc("/data/2.5/forecast", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"list":[{"dt_txt":"2024-05-01 12:00:00","main":{"feels_like":14.2}}]}`))
	})
	mux.HandleFunc("/data/2.5/air_pollution/forecast", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"list":[{"dt":1714564800,"main":{"aqi":2},"components":{"pm2_5":5.3,"pm10":7.9}}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Server.RateLimit = 0
	cfg.Server.BackendURL = "http://weather.test"
	cfg.Server.StatsDir = t.TempDir()

	upstream := fakeWeatherAPI(t)
	cfg.Weather.BaseURL = upstream.URL
	cfg.Weather.GeocodingURL = upstream.URL
	cfg.Weather.APIKey = "test-key"

	codec, err := token.NewCodec(token.Config{
		Secret:      []byte("0123456789abcdef0123456789abcdef"),
		SessionTTL:  cfg.Auth.SessionTTL,
		TransferTTL: cfg.Auth.TransferTTL,
	})
	require.NoError(t, err)

	logger := utils.NewDiscardLogger()
	store := blacklist.NewSQLStore(db)
	gate := auth.NewGate(codec, store)
	weather := services.NewWeatherService(cfg.Weather, logger)
	charts := services.NewChartService(weather, cfg.Server.StatsDir, logger)

	tasks := scheduler.NewScheduler(db, logger)
	require.NoError(t, tasks.RegisterDefaultTasks(cfg.Scheduler, charts, store, logger))

	return NewRouter(Deps{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Gate:     gate,
		Accounts: services.NewAccountService(&models.UserModel{DB: db}, &models.ItemModel{DB: db}, gate, cfg.Server.BackendURL, logger),
		Weather:  weather,
		Charts:   charts,
		Tasks:    tasks,
		Version:  "test",
	})
}

func do(t *testing.T, r http.Handler, method, path, tok string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Token", tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func accessToken(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func signup(t *testing.T, r http.Handler, login string) string {
	t.Helper()
	w := do(t, r, http.MethodPost, "/users/signup", "", map[string]string{"login": login, "password": "Abc12345"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return accessToken(t, w)
}

func TestSessionLifecycle(t *testing.T) {
	r := newTestRouter(t)

	signup(t, r, "alice")

	w := do(t, r, http.MethodPost, "/users/login", "", map[string]string{"login": "alice", "password": "Abc12345"})
	require.Equal(t, http.StatusOK, w.Code)
	session := accessToken(t, w)

	w = do(t, r, http.MethodGet, "/users/items", session, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/users/logout", session, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodGet, "/users/items", session, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
}

func TestSignupErrors(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/users/signup", "", map[string]string{"login": "bob", "password": "abcdefgh"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "VALIDATION_FAILED", resp.Code)
	assert.Contains(t, resp.Details, "password")

	signup(t, r, "bob")
	w = do(t, r, http.MethodPost, "/users/signup", "", map[string]string{"login": "bob", "password": "Abc12345"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/users/login", "", map[string]string{"login": "bob", "password": "Wrong1234"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/users/signup", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestItemsAndTransfer(t *testing.T) {
	r := newTestRouter(t)
	alice := signup(t, r, "alice")
	bob := signup(t, r, "bob")

	w := do(t, r, http.MethodPost, "/users/items/new", alice, map[string]string{"title": "umbrella"})
	require.Equal(t, http.StatusCreated, w.Code)
	var item struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	assert.Equal(t, "umbrella", item.Title)

	w = do(t, r, http.MethodPost, "/users/items/new", bob, map[string]string{"title": "umbrella"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "titles are unique")

	w = do(t, r, http.MethodDelete, "/users/items/"+itoa(item.ID), bob, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "bob does not own it")

	w = do(t, r, http.MethodPost, "/users/send", alice, map[string]interface{}{"user_login": "bob", "item_id": item.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sent struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))
	require.True(t, strings.HasPrefix(sent.URL, "http://weather.test/users/"))

	link, err := url.Parse(sent.URL)
	require.NoError(t, err)

	w = do(t, r, http.MethodGet, link.Path, alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "transfer token is addressed to bob")

	w = do(t, r, http.MethodGet, link.Path, bob, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = do(t, r, http.MethodGet, link.Path, bob, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "transfer tokens are single use")

	w = do(t, r, http.MethodGet, "/users/items", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "umbrella")

	w = do(t, r, http.MethodDelete, "/users/items/"+itoa(item.ID), bob, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodDelete, "/users/items/"+itoa(item.ID), bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodDelete, "/users/items/abc", bob, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestWeatherRoutes(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/weather/current/London", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var current map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
	assert.Equal(t, "London", current["place"])
	assert.Equal(t, 10.5, current["temperature"])

	w = do(t, r, http.MethodGet, "/weather/current/London?format=2", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "London: +11°C\n", w.Body.String())

	w = do(t, r, http.MethodGet, "/api/v1/current/London?units=kelvinish", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/weather/current/Atlantis", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/forecast/London", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "2024-05-01 12:00:00")

	w = do(t, r, http.MethodGet, "/api/v1/pollution/London", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"aqi":2`)
}

func TestChartRoutes(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/weather/chart/cities", "", map[string]interface{}{
		"cities": []map[string]string{{"name": "London"}, {"name": "Paris"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = do(t, r, http.MethodGet, "/weather/map/cities?cities=London,Paris", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/weather/chart/cities", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "at least one city")

	w = do(t, r, http.MethodGet, "/weather/forecast/chart/London", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/weather/pollution/forecast/London", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOperationalRoutes(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"name":"blacklist-purge"`)
	assert.Contains(t, w.Body.String(), `"name":"stats-sweep"`)

	w = do(t, r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestUsersResponsesAreNotCached(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/users/login", "", map[string]string{"login": "x", "password": "y"})
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
