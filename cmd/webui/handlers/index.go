package handlers

import (
	"net/http"

	"github.com/23skdu/longbow-kurdish/cmd/webui/templates"
	"github.com/23skdu/longbow-kurdish/internal/language"
	"github.com/23skdu/longbow-kurdish/internal/session"
)

func IndexHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		st := app.session(w, r).Snapshot()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := templates.RenderIndex(w, app.page(st)); err != nil {
			app.log.Error("render index", "err", err)
			RecordError("render")
		}
	}
}

func (a *App) page(st session.State) templates.Page {
	langs := a.Engine.Languages
	p := templates.Page{
		Theme:  string(st.Theme),
		Status: string(st.Status),
		Input:  st.Input,
		Output: st.LastOutput,
	}
	for _, d := range langs.Directions() {
		p.Directions = append(p.Directions, templates.Option{
			Value:    directionValue(d),
			Label:    langs.Label(d),
			Selected: d == st.Direction(),
		})
	}
	if src, err := langs.Lookup(st.Source); err == nil {
		p.InputRTL = src.RTL
	}
	if tgt, err := langs.Lookup(st.Target); err == nil {
		p.OutputRTL = tgt.RTL
	}
	switch st.Status {
	case session.StatusWarning:
		p.Warning = st.Message
		p.Output = ""
	case session.StatusError:
		p.Error = st.Message
	}
	return p
}

func directionValue(d language.Direction) string {
	return string(d.Source) + ":" + string(d.Target)
}
