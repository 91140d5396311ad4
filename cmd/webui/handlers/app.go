package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/23skdu/longbow-kurdish/cmd/webui/config"
	"github.com/23skdu/longbow-kurdish/cmd/webui/engine"
	"github.com/23skdu/longbow-kurdish/internal/logger"
	"github.com/23skdu/longbow-kurdish/internal/session"
)

// SessionCookie carries the session id between page loads.
const SessionCookie = "kt_session"

// App is the state shared by all handlers.
type App struct {
	Config   config.Config
	Engine   *engine.Engine
	Sessions *session.Store

	log *logger.Logger
}

func NewApp(cfg config.Config, eng *engine.Engine, sessions *session.Store) *App {
	return &App{
		Config:   cfg,
		Engine:   eng,
		Sessions: sessions,
		log:      logger.Log.With("webui"),
	}
}

// Probes collects what the health endpoints inspect. Missing parts stay nil.
func (a *App) Probes() Probes {
	var p Probes
	if a.Engine != nil {
		if a.Engine.Loader != nil {
			p.Models = a.Engine.Loader
		}
		if a.Engine.Translator != nil {
			p.Queue = a.Engine.Translator
		}
	}
	if a.Sessions != nil {
		p.Sessions = a.Sessions
	}
	return p
}

// session returns the caller's session, creating one and setting the cookie when
// the request carries none or an expired id.
func (a *App) session(w http.ResponseWriter, r *http.Request) *session.Session {
	id := ""
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}
	sess, created := a.Sessions.GetOrCreate(id)
	if created {
		http.SetCookie(w, a.sessionCookie(r, sess.ID()))
	}
	return sess
}

func (a *App) sessionCookie(r *http.Request, id string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(a.Config.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}
