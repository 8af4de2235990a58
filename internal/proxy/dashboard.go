package proxy

import (
	"encoding/json"
	"html/template"
	"log"
	"net/http"
	"strings"
	"time"
)

const killPrefix = "/api/kill/"

type dashboardService struct {
	Domain  string
	URL     string
	Port    int
	PID     int
	Alive   bool
	Age     string
	HasKill bool
}

type dashboardData struct {
	Services []dashboardService
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>portless</title>
<style>
  body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2rem auto; max-width: 44rem; color: #1a1a2e; }
  h1 { font-size: 1.4rem; }
  table { border-collapse: collapse; width: 100%; }
  th, td { text-align: left; padding: .5rem .75rem; border-bottom: 1px solid #e0e0e8; }
  th { font-size: .75rem; text-transform: uppercase; color: #6a6a7a; }
  a { color: #3452d8; text-decoration: none; }
  .dead { color: #b03030; }
  .empty { color: #6a6a7a; padding: 2rem 0; }
  button { border: 1px solid #c8c8d4; background: #fff; border-radius: 4px; padding: .2rem .6rem; cursor: pointer; }
  button:hover { background: #fbeaea; border-color: #b03030; }
</style>
</head>
<body>
<h1>portless</h1>
{{if .Services}}
<table>
  <tr><th>Domain</th><th>Port</th><th>PID</th><th>Uptime</th><th></th></tr>
  {{range .Services}}
  <tr>
    <td><a href="{{.URL}}">{{.Domain}}</a>{{if not .Alive}} <span class="dead">(dead)</span>{{end}}</td>
    <td>{{.Port}}</td>
    <td>{{if .PID}}{{.PID}}{{else}}&mdash;{{end}}</td>
    <td>{{.Age}}</td>
    <td>{{if .HasKill}}<button onclick="kill('{{.Domain}}')">stop</button>{{end}}</td>
  </tr>
  {{end}}
</table>
{{else}}
<p class="empty">No services registered. Run <code>portless start</code> in a project directory.</p>
{{end}}
<script>
async function kill(domain) {
  await fetch('/api/kill/' + domain, { method: 'POST' });
  location.reload();
}
</script>
</body>
</html>
`))

// handleDashboard serves the bare-localhost surface: the HTML service list
// and the POST /api/kill/<domain> endpoint behind its stop buttons.
func (e *Engine) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, killPrefix) {
		e.handleKill(w, r)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := dashboardData{}
	for _, svc := range e.registry.List() {
		data.Services = append(data.Services, dashboardService{
			Domain:  svc.Domain,
			URL:     "http://" + svc.Domain,
			Port:    svc.Port,
			PID:     svc.PID,
			Alive:   e.registry.Alive(svc),
			Age:     formatAge(svc.StartedAt),
			HasKill: e.stop != nil && svc.PID > 0,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		log.Printf("[Proxy] dashboard render: %v", err)
	}
}

func (e *Engine) handleKill(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(map[string]string{"error": "method not allowed"})
		return
	}
	if e.stop == nil {
		w.WriteHeader(http.StatusNotImplemented)
		json.NewEncoder(w).Encode(map[string]string{"error": "stop is not available"})
		return
	}

	domain := strings.TrimPrefix(r.URL.Path, killPrefix)
	if _, ok := e.registry.Lookup(domain); !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown domain"})
		return
	}

	if err := e.stop(domain); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func formatAge(start time.Time) string {
	if start.IsZero() {
		return "—"
	}
	d := time.Since(start).Round(time.Second)
	switch {
	case d < time.Minute:
		return d.String()
	case d < time.Hour:
		return d.Round(time.Minute).String()
	default:
		return d.Round(time.Hour).String()
	}
}
