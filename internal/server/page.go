package server

import (
	"embed"
	"html/template"
	"io"

	"github.com/blackwell-systems/npmdash/internal/config"
	"github.com/blackwell-systems/npmdash/internal/dashboard"
	"github.com/blackwell-systems/npmdash/internal/output"
)

//go:embed templates/*.html
var templateFS embed.FS

const pageTitle = "npm downloads"

type periodChoice struct {
	Key      config.PeriodKey
	Label    string
	Selected bool
}

type card struct {
	Name        string
	DisplayName string
	Homepage    string
	Count       string
	Skeleton    bool
}

type pageData struct {
	Title       string
	Periods     []periodChoice
	PeriodLabel string
	Updated     string
	Error       string
	Loading     bool
	Cards       []card
	Generation  uint64
	Status      string
}

func parsePage() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/index.html")
}

// newPageData derives the page model. Controls are disabled for any
// running cycle; the skeleton is only shown on a first load.
func newPageData(pkgs []config.TrackedPackage, snap dashboard.Snapshot) pageData {
	d := pageData{
		Title:       pageTitle,
		PeriodLabel: snap.PeriodLabel(),
		Updated:     output.FormatUpdated(snap.LastUpdated),
		Error:       snap.Error,
		Loading:     snap.Status == dashboard.StatusLoading,
		Generation:  snap.Generation,
		Status:      string(snap.Status),
	}
	for _, p := range config.Periods() {
		d.Periods = append(d.Periods, periodChoice{Key: p.Key, Label: p.Label, Selected: p.Key == snap.Period})
	}
	for _, p := range pkgs {
		c := card{Name: p.Name, DisplayName: p.DisplayName, Homepage: p.Homepage, Count: output.Placeholder}
		if n, ok := snap.Downloads(p.Name); ok {
			c.Count = output.FormatCount(n)
		} else if snap.IsLoading() {
			c.Skeleton = true
		}
		d.Cards = append(d.Cards, c)
	}
	return d
}

func renderPage(w io.Writer, tmpl *template.Template, d pageData) error {
	return tmpl.ExecuteTemplate(w, "index.html", d)
}
