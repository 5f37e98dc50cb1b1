package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/errgroup"

	"github.com/briangreenhill/apodrating/internal/apod"
	"github.com/briangreenhill/apodrating/internal/db"
	appmw "github.com/briangreenhill/apodrating/internal/http/middleware"
)

// maxFanOut bounds concurrent proxy queries for GET /apod.
const maxFanOut = 8

// Proxy answers record queries. *proxy.Service implements it.
type Proxy interface {
	Query(ctx context.Context, id, date, apiKey string) (apod.Record, error)
}

type Server struct {
	Router   *chi.Mux
	Q        *db.Queries // sqlc queries
	Proxy    Proxy
	Validate *validator.Validate
}

type ServerOptions struct {
	Q        *db.Queries
	Proxy    Proxy
	APIKey   string
	Logger   zerolog.Logger
	Gatherer prometheus.Gatherer
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	s := &Server{Router: r, Q: opts.Q, Proxy: opts.Proxy, Validate: newValidator()}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// reading a rating is public
	r.Get("/apod/{apodID}/rating", s.handleGetRating)

	r.Group(func(pr chi.Router) {
		pr.Use(appmw.RequireAPIKey(opts.APIKey))
		pr.Post("/apod", s.handlePostApod)
		pr.Get("/apod", s.handleGetApods)
		pr.Get("/apod/{apodID}", s.handleGetApod)
		pr.Put("/apod/{apodID}/rating", s.handlePutRating)
	})

	return s
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apod.Error{Code: status, Message: msg})
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	if err := s.Validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.New("invalid field " + fe.Field() + ": failed " + fe.Tag())
		}
		return err
	}
	return nil
}

func apodID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "apodID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid apod id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handlePostApod(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	var req apod.Request
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.Q.GetApodByDate(r.Context(), req.Date); err == nil {
		writeError(w, http.StatusConflict, "Entry already exists")
		return
	} else if !db.IsNotFound(err) {
		log.Error().Err(err).Str("date", req.Date).Msg("lookup apod by date failed")
		writeError(w, http.StatusInternalServerError, "could not create apod entry")
		return
	}

	row, err := s.Q.CreateApod(r.Context(), db.CreateApodParams{ID: uuid.New(), DateString: req.Date})
	if err != nil {
		if db.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "Entry already exists")
			return
		}
		log.Error().Err(err).Str("date", req.Date).Msg("insert apod failed")
		writeError(w, http.StatusInternalServerError, "could not create apod entry")
		return
	}

	// warm the cache; the row stays even when the upstream has nothing
	if _, err := s.Proxy.Query(r.Context(), row.ID.String(), row.DateString, appmw.APIKey(r.Context())); err != nil {
		log.Error().Err(err).Str("id", row.ID.String()).Msg("query new apod failed")
		writeError(w, http.StatusInternalServerError, "Could not create apod entry.")
		return
	}

	w.Header().Set("Location", "/apod/"+row.ID.String())
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGetApods(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Q.ListApods(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list apods failed")
		writeError(w, http.StatusInternalServerError, "could not load apods")
		return
	}

	key := appmw.APIKey(r.Context())
	found := make([]*apod.Record, len(rows))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(maxFanOut)
	for i, row := range rows {
		g.Go(func() error {
			rec, err := s.Proxy.Query(ctx, row.ID.String(), row.DateString, key)
			if errors.Is(err, apod.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			found[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("query apods failed")
		writeError(w, http.StatusInternalServerError, "could not load apods")
		return
	}
	// a departed client makes every query look missing
	if err := r.Context().Err(); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("client went away during apod list")
		return
	}

	out := make([]apod.Record, 0, len(found))
	for _, rec := range found {
		if rec != nil {
			out = append(out, *rec)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetApod(w http.ResponseWriter, r *http.Request) {
	id, ok := apodID(w, r)
	if !ok {
		return
	}

	row, err := s.Q.GetApod(r.Context(), id)
	if db.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "Apod does not exist.")
		return
	} else if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("id", id.String()).Msg("get apod failed")
		writeError(w, http.StatusInternalServerError, "could not load apod")
		return
	}

	rec, err := s.Proxy.Query(r.Context(), row.ID.String(), row.DateString, appmw.APIKey(r.Context()))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Apod is currently unavailable.")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePutRating(w http.ResponseWriter, r *http.Request) {
	id, ok := apodID(w, r)
	if !ok {
		return
	}
	var req apod.RatingRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exists, err := s.Q.ApodExists(r.Context(), id)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("id", id.String()).Msg("check apod failed")
		writeError(w, http.StatusInternalServerError, "could not store rating")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "Apod does not exist.")
		return
	}

	if err := s.Q.CreateRating(r.Context(), db.CreateRatingParams{Value: int32(req.Rating), ApodID: id}); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("id", id.String()).Msg("insert rating failed")
		writeError(w, http.StatusInternalServerError, "could not store rating")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetRating(w http.ResponseWriter, r *http.Request) {
	id, ok := apodID(w, r)
	if !ok {
		return
	}

	row, err := s.Q.GetAverageRating(r.Context(), id)
	if db.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "A rating for this Apod entry does not exist")
		return
	} else if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("id", id.String()).Msg("get rating failed")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusOK, apod.Rating{ID: row.ApodID.String(), Rating: int(row.Rating)})
}
