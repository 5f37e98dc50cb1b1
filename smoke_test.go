package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/apodrating/internal/apod"
	"github.com/briangreenhill/apodrating/internal/db"
	"github.com/briangreenhill/apodrating/internal/http/routes"
	"github.com/briangreenhill/apodrating/internal/proxy"
	"github.com/briangreenhill/apodrating/nasa"
)

// TestSmokeTest drives the whole service against a real database and a fake upstream
func TestSmokeTest(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs

	// Skip if no database URL provided
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping smoke test")
	}

	ctx := context.Background()

	// Setup database
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, db.ApplySchema(ctx, pool))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"date": date, "title": "Smoke " + date, "hdurl": "https://example.com/" + date})
	}))
	defer upstream.Close()

	reg := prometheus.NewRegistry()
	px := proxy.Build(proxy.DefaultConfig(), nasa.New(nasa.WithBaseURL(upstream.URL)), zerolog.Nop(), reg)
	server := routes.New(routes.ServerOptions{Q: db.New(pool), Proxy: px, APIKey: "smoke-key", Logger: zerolog.Nop(), Gatherer: reg})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("X-API-KEY", "smoke-key")
		w := httptest.NewRecorder()
		server.Router.ServeHTTP(w, req)
		return w
	}

	// unique per run so reruns against the same database do not conflict
	date := time.Now().AddDate(0, 0, -int(time.Now().UnixNano()%9000)).Format("2006-01-02")

	t.Run("register_rate_and_read", func(t *testing.T) {
		w := do(http.MethodPost, "/apod", fmt.Sprintf(`{"dateString":%q}`, date))
		if w.Code == http.StatusConflict {
			t.Skip("date already registered by an earlier run")
		}
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		location := w.Header().Get("Location")
		require.True(t, strings.HasPrefix(location, "/apod/"))

		w = do(http.MethodPost, "/apod", fmt.Sprintf(`{"dateString":%q}`, date))
		require.Equal(t, http.StatusConflict, w.Code)

		w = do(http.MethodGet, location, "")
		require.Equal(t, http.StatusOK, w.Code)
		var rec apod.Record
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
		require.Equal(t, "Smoke "+date, rec.Title)

		for _, r := range []int{4, 7, 9} {
			w = do(http.MethodPut, location+"/rating", fmt.Sprintf(`{"rating":%d}`, r))
			require.Equal(t, http.StatusNoContent, w.Code)
		}

		w = do(http.MethodGet, location+"/rating", "")
		require.Equal(t, http.StatusOK, w.Code)
		var rating apod.Rating
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rating))
		require.Equal(t, 7, rating.Rating)

		w = do(http.MethodGet, "/apod", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), date)
	})
}
