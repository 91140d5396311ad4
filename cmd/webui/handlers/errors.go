package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/23skdu/longbow-kurdish/internal/language"
	"github.com/23skdu/longbow-kurdish/internal/loader"
	"github.com/23skdu/longbow-kurdish/internal/session"
	"github.com/23skdu/longbow-kurdish/internal/translator"
)

// classify maps a request failure to its HTTP status and metric label. A stage
// error caused by a cancel or backend timeout counts as canceled.
func classify(err error) (int, string) {
	var loadErr *loader.ModelLoadError
	var terr *translator.TranslationError
	switch {
	case errors.As(err, &loadErr), errors.Is(err, loader.ErrClosed):
		return http.StatusServiceUnavailable, "model_load"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "canceled"
	case errors.As(err, &terr):
		return http.StatusBadGateway, "translation"
	case errors.Is(err, translator.ErrUnsupportedLanguage),
		errors.Is(err, translator.ErrSameLanguage),
		errors.Is(err, language.ErrUnsupported):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "busy"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	RecordError(kind)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	msg := err.Error()
	switch kind {
	case "model_load", "translation", "canceled":
		msg = session.ErrorMessage(err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
