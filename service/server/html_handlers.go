package server

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/brojonat/sybilwatch/service/db"
	"github.com/brojonat/sybilwatch/service/sybil"
)

//go:embed templates/*.html
var templatesFS embed.FS

// TemplateRenderer holds parsed HTML templates
type TemplateRenderer struct {
	templates *template.Template
	logger    *slog.Logger
}

// NewTemplateRenderer creates a new template renderer from embedded files
func NewTemplateRenderer(logger *slog.Logger) (*TemplateRenderer, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &TemplateRenderer{
		templates: tmpl,
		logger:    logger,
	}, nil
}

// Render renders a template with the given data
func (tr *TemplateRenderer) Render(w http.ResponseWriter, name string, data interface{}) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tr.templates.ExecuteTemplate(w, name, data)
}

type dashboardData struct {
	Report *sybil.Report
}

// handleDashboardPage renders the cluster table of the latest report.
func handleDashboardPage(renderer *TemplateRenderer, reports ReportSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := reports.GetLatestReport(r.Context())
		if err != nil && !errors.Is(err, db.ErrNoReports) {
			renderer.logger.Error("failed to load report", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		if err := renderer.Render(w, "dashboard.html", dashboardData{Report: report}); err != nil {
			renderer.logger.Error("failed to render template", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}
