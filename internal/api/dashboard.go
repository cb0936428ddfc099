package api

import (
	"html/template"
	"time"

	"harvestflow/internal/domain"
	"harvestflow/internal/scheduler"
	"harvestflow/internal/worker"
)

type dashboardView struct {
	GeneratedAt time.Time
	Stats       *worker.Stats
	QueueDepth  int64
	Tasks       []string
	Schedules   []scheduler.EntryStatus
	Recent      []domain.Result
}

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"ts": func(t time.Time) string { return t.Format(time.RFC3339) },
}).Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>harvestflow</title></head>
<body>
<h1>harvestflow</h1>
<p>Generated {{ts .GeneratedAt}}. Queue depth: {{.QueueDepth}}.</p>
{{with .Stats}}
<table class="table"><thead><tr><th>Processed</th><th>Succeeded</th><th>Failed</th><th>Skipped</th><th>Aborted</th><th>In flight</th></tr></thead>
<tbody><tr><td>{{.Processed}}</td><td>{{.Succeeded}}</td><td>{{.Failed}}</td><td>{{.Skipped}}</td><td>{{.Aborted}}</td><td>{{.InFlight}}</td></tr></tbody></table>
{{end}}
<h2>Schedules</h2>
{{if .Schedules}}
<table class="table"><thead><tr><th>Name</th><th>Task</th><th>Trigger</th><th>Last Run</th><th>Next Run</th></tr></thead><tbody>
{{range .Schedules}}<tr><td>{{.Name}}</td><td>{{.Task}}</td><td>{{.Trigger}}</td><td>{{with .LastFire}}{{ts .}}{{else}}never{{end}}</td><td>{{ts .NextFire}}</td></tr>
{{end}}</tbody></table>
{{else}}<p>No schedules found</p>{{end}}
<h2>Recent results</h2>
{{if .Recent}}
<table class="table"><thead><tr><th>ID</th><th>Task</th><th>Status</th><th>Completed</th></tr></thead><tbody>
{{range .Recent}}<tr><td>{{.TaskID}}</td><td>{{.TaskName}}</td><td>{{.Status}}</td><td>{{ts .CompletedAt}}</td></tr>
{{end}}</tbody></table>
{{else}}<p>No results found</p>{{end}}
<h2>Registered tasks</h2>
<ul>{{range .Tasks}}<li>{{.}}</li>{{end}}</ul>
</body>
</html>
`))
