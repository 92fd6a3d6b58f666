package export

import (
	"bytes"
	"html/template"
	"time"
)

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(documentLayout))

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title       string
	ShowTitle   bool
	ContentHTML template.HTML
	Author      string
	UpdatedAt   time.Time
	PageSize    string
}

// RenderDocumentHTML renders the standalone HTML page every format starts from.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentLayout = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    @page { size: {{.PageSize}}; }
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1.title { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
  </style>
</head>
<body>
  {{if .ShowTitle}}<h1 class="title">{{.Title}}</h1>{{end}}
  {{if or .Author (not .UpdatedAt.IsZero)}}<div class="meta">{{.Author}}{{if not .UpdatedAt.IsZero}} | {{formatDate .UpdatedAt "Jan 2, 2006"}}{{end}}</div>{{end}}
  <div class="content">{{.ContentHTML}}</div>
</body>
</html>`
