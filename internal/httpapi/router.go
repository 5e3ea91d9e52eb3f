// Package httpapi exposes the scan trigger and the persisted notification
// lists over HTTP.
package httpapi

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/nhle/reminders/internal/clientstore"
	"github.com/nhle/reminders/internal/inbox"
	"github.com/nhle/reminders/internal/model"
	"github.com/nhle/reminders/internal/scanner"
)

// Scanner runs one reminder scan.
type Scanner interface {
	Scan(ctx context.Context) scanner.Result
}

// Options configures NewRouter. Routes whose dependency is nil are not
// mounted.
type Options struct {
	Scanner Scanner

	// Notifications is the durable client store the inbox views write to.
	// The API only reads it.
	Notifications clientstore.Backend

	// Retention hides older notifications from listings. Zero uses
	// inbox.DefaultRetention.
	Retention time.Duration

	Logger *log.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type notificationsResponse struct {
	Identity      string                     `json:"identity"`
	Unread        int                        `json:"unread"`
	Notifications []model.StoredNotification `json:"notifications"`
}

// NewRouter builds the API handler.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v chi.Router) {
		if opts.Scanner != nil {
			v.Post("/reminders/scan", scanHandler(opts.Scanner))
		}
		if opts.Notifications != nil {
			v.Get("/notifications", listNotificationsHandler(opts.Notifications, opts.Retention, logger))
		}
	})

	return r
}

func scanHandler(s Scanner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := s.Scan(r.Context())
		render.Status(r, http.StatusOK)
		render.JSON(w, r, res)
	}
}

func listNotificationsHandler(backend clientstore.Backend, retention time.Duration, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := identityFromQuery(r)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{Error: err.Error()})
			return
		}

		items, err := inbox.Snapshot(r.Context(), backend, id,
			inbox.WithLogger(logger), inbox.WithRetention(retention))
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{Error: err.Error()})
			return
		}

		unread := 0
		for _, n := range items {
			if !n.Read {
				unread++
			}
		}
		if items == nil {
			items = []model.StoredNotification{}
		}

		render.JSON(w, r, notificationsResponse{
			Identity:      id.String(),
			Unread:        unread,
			Notifications: items,
		})
	}
}

type queryError string

func (e queryError) Error() string { return string(e) }

func identityFromQuery(r *http.Request) (model.Identity, error) {
	q := r.URL.Query()
	accountID := strings.TrimSpace(q.Get("account_id"))
	if accountID == "" {
		return model.Identity{}, queryError("account_id is required")
	}

	switch model.Audience(q.Get("audience")) {
	case model.AudienceAccount, model.AudienceUnspecified:
		return model.AccountIdentity(accountID), nil
	case model.AudienceDelegate:
		email := strings.TrimSpace(q.Get("email"))
		if email == "" {
			return model.Identity{}, queryError("email is required for the delegate audience")
		}
		return model.DelegateIdentity(accountID, email), nil
	default:
		return model.Identity{}, queryError("audience must be account or delegate")
	}
}
