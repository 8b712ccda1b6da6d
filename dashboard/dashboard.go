// Package dashboard renders the recent prediction history as an HTML page.
package dashboard

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/Tutortoise/object-detection-service/models"
	"github.com/Tutortoise/object-detection-service/results"
)

const RefreshSeconds = 10

// Source is the history the dashboard reads from.
type Source interface {
	Snapshot() []models.RequestRecord
	Capacity() int
}

type Renderer struct {
	source Source
	tmpl   *template.Template
	logger *zap.Logger
}

type pageData struct {
	RefreshSeconds int
	Capacity       int
	Requests       []requestView
}

type requestView struct {
	ID          string
	Timestamp   string
	ImageURL    template.URL
	Predictions []models.Detection
	Top         *models.Detection
}

func New(source Source, logger *zap.Logger) (*Renderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tmpl, err := template.New("dashboard.html").
		Funcs(template.FuncMap{"percent": percent}).
		ParseFS(embeddedFiles, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("parse dashboard template: %w", err)
	}

	return &Renderer{source: source, tmpl: tmpl, logger: logger}, nil
}

// Render writes the page for the current history state.
func (d *Renderer) Render(w io.Writer) error {
	records := d.source.Snapshot()

	data := pageData{
		RefreshSeconds: RefreshSeconds,
		Capacity:       d.source.Capacity(),
		Requests:       make([]requestView, 0, len(records)),
	}
	for _, rec := range records {
		view := requestView{
			ID:          rec.ID,
			Timestamp:   rec.Timestamp,
			Predictions: rec.Predictions,
			Top:         results.TopPrediction(rec.Predictions),
		}
		if rec.ImageBase64 != "" {
			// The payload is our own PNG encoding, so the data URL is trusted.
			view.ImageURL = template.URL(results.DataURL(rec.ImageBase64))
		}
		data.Requests = append(data.Requests, view)
	}

	return d.tmpl.Execute(w, data)
}

func (d *Renderer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		d.logger.Error("failed to render dashboard", zap.Error(err))
		http.Error(w, "failed to render dashboard", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

// StaticHandler serves the embedded stylesheet and other assets. Mount it
// under /static/.
func StaticHandler() http.Handler {
	return http.StripPrefix("/static/", http.FileServer(http.FS(StaticFS())))
}

func percent(conf float64) string {
	return fmt.Sprintf("%.1f%%", conf*100)
}
