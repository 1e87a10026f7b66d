package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var viewTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/view.html")
	if err != nil {
		viewTemplate = template.Must(template.New("view").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	viewTemplate = template.Must(template.New("view").Funcs(funcMap).Parse(string(templateContent)))
}

// RenderTableHTML renders the view template. Cell text is escaped.
func RenderTableHTML(t Table) (string, error) {
	var buf bytes.Buffer
	if err := viewTemplate.Execute(&buf, t); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body>
  <h1>{{.Title}}</h1>
  <div>{{.BoardName}} | {{.Count}}</div>
  {{$cols := .Columns}}
  {{range .Groups}}
  {{if .Title}}<h2>{{.Title}}</h2>{{end}}
  <table>
    <tr>{{range $cols}}<th>{{.}}</th>{{end}}</tr>
    {{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>{{end}}
  </table>
  {{end}}
</body>
</html>`
