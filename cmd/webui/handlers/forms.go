package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/23skdu/longbow-kurdish/internal/language"
	"github.com/23skdu/longbow-kurdish/internal/session"
)

// The form handlers serve the page without JavaScript. Each applies one session
// operation and redirects back to the page, which renders the new state.

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func TranslateFormHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		sess := app.session(w, r)
		// Failures are recorded in the session state and shown as a banner.
		if _, err := sess.Submit(r.Context(), r.PostFormValue("text"), app.Engine.Translator); err != nil {
			_, kind := classify(err)
			RecordError(kind)
		}
		redirectHome(w, r)
	}
}

func SwapFormHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := app.session(w, r).SwapLanguages(); err != nil && !errors.Is(err, session.ErrBusy) {
			app.fail(w, r, err)
			return
		}
		redirectHome(w, r)
	}
}

func ThemeFormHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := app.session(w, r).ToggleTheme(); err != nil && !errors.Is(err, session.ErrBusy) {
			app.fail(w, r, err)
			return
		}
		redirectHome(w, r)
	}
}

func DirectionFormHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		dir, err := parseDirection(app.Engine.Languages, r.PostFormValue("direction"))
		if err != nil {
			app.fail(w, r, err)
			return
		}
		if _, err := app.session(w, r).SetDirection(dir.Source, dir.Target); err != nil && !errors.Is(err, session.ErrBusy) {
			app.fail(w, r, err)
			return
		}
		redirectHome(w, r)
	}
}

// parseDirection reads the selector value "source:target".
func parseDirection(langs *language.Table, v string) (language.Direction, error) {
	src, tgt, ok := strings.Cut(v, ":")
	if !ok {
		return language.Direction{}, language.ErrUnsupported
	}
	source, err := langs.Parse(src)
	if err != nil {
		return language.Direction{}, err
	}
	target, err := langs.Parse(tgt)
	if err != nil {
		return language.Direction{}, err
	}
	return language.Direction{Source: source, Target: target}, nil
}
