package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/23skdu/longbow-kurdish/internal/language"
	"github.com/23skdu/longbow-kurdish/internal/metrics"
	"github.com/23skdu/longbow-kurdish/internal/session"
	"github.com/23skdu/longbow-kurdish/internal/translator"
)

const maxRequestBody = 64 << 10

type DirectionInfo struct {
	Source language.Tag `json:"source"`
	Target language.Tag `json:"target"`
	Label  string       `json:"label"`
}

type LanguagesResponse struct {
	Languages  []language.Language `json:"languages"`
	Directions []DirectionInfo     `json:"directions"`
}

// TranslateRequest accepts tags ("ckb_Arab") or names ("Kurdish"). Omitted
// languages default to English → Kurdish.
type TranslateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
}

func LanguagesHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		langs := app.Engine.Languages
		resp := LanguagesResponse{Languages: langs.All()}
		for _, d := range langs.Directions() {
			resp.Directions = append(resp.Directions, DirectionInfo{Source: d.Source, Target: d.Target, Label: langs.Label(d)})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func TranslateHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		var req TranslateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RecordError("invalid_request")
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}

		if strings.TrimSpace(req.Text) == "" {
			metrics.RecordValidationWarning()
			writeJSON(w, http.StatusBadRequest, errorResponse{Warning: session.EmptyInputWarning})
			return
		}

		tr, err := resolveDirection(app.Engine.Languages, req)
		if err != nil {
			app.fail(w, r, err)
			return
		}

		res, err := app.Engine.Translator.Translate(r.Context(), tr)
		if err != nil {
			app.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// resolveDirection fills an omitted side with the other language of the table.
func resolveDirection(langs *language.Table, req TranslateRequest) (translator.Request, error) {
	tr := translator.Request{Text: req.Text, Source: language.English, Target: language.Kurdish}
	var err error
	if req.Source != "" {
		if tr.Source, err = langs.Parse(req.Source); err != nil {
			return tr, err
		}
	}
	if req.Target != "" {
		if tr.Target, err = langs.Parse(req.Target); err != nil {
			return tr, err
		}
	}
	switch {
	case req.Source != "" && req.Target == "":
		tr.Target, err = langs.Other(tr.Source)
	case req.Source == "" && req.Target != "":
		tr.Source, err = langs.Other(tr.Target)
	}
	return tr, err
}

func SessionStateHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.session(w, r).Snapshot())
	}
}

func SessionSwapHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := app.session(w, r).SwapLanguages()
		if err != nil {
			app.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func SessionThemeHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := app.session(w, r).ToggleTheme()
		if err != nil {
			app.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
