package server

import (
	"bytes"
	"embed"
	"html/template"
	"math/rand/v2"
	"net/http"
)

//go:embed web/intervention.html
var webFS embed.FS

var interventionTmpl = template.Must(template.ParseFS(webFS, "web/intervention.html"))

// Quotes drift across the intervention page while the ritual runs.
var Quotes = []string{
	"Focus", "Is this urgent?", "Create, don't consume", "Breathe",
	"Time is currency", "Do the hard work", "Stay conscious", "You are in control",
	"Why are you here?", "Discipline equals freedom", "Scroll less, live more",
	"Deep work", "Be present", "What is your goal?", "Legacy over likes",
	"Get back to work", "Comfort is a trap", "Tick tock, time is running out",
	"Stop seeking validation", "Your competition is working", "Pain is temporary",
	"Execution over excuses", "Don't disappoint your future self",
	"Focus or fail", "Cheap dopamine is killing you", "Be better",
}

type pageData struct {
	Target string
	Quotes []string
}

func (s *Server) handleIntervention(w http.ResponseWriter, r *http.Request) {
	quotes := make([]string, len(Quotes))
	copy(quotes, Quotes)
	rand.Shuffle(len(quotes), func(i, j int) { quotes[i], quotes[j] = quotes[j], quotes[i] })

	var buf bytes.Buffer
	if err := interventionTmpl.Execute(&buf, pageData{
		Target: r.URL.Query().Get("target"),
		Quotes: quotes,
	}); err != nil {
		s.logger.Error("render intervention page", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}
