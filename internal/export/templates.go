package export

import (
	"bytes"
	"html/template"
	"time"
)

var catalogTemplate = template.Must(template.New("catalog").Parse(catalogTemplateSource))

// TemplateData holds data for catalog report rendering
type TemplateData struct {
	Name      string
	OwnerName string
	UpdatedAt time.Time
	Languages []string
	Rows      []TemplateRow
}

// TemplateRow is one string key with its per-language values, aligned with
// TemplateData.Languages.
type TemplateRow struct {
	Key     string
	Comment string
	Values  []TemplateCell
}

type TemplateCell struct {
	Value string
	State string
}

// RenderCatalogHTML renders the string-table report for a catalog.
func RenderCatalogHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := catalogTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const catalogTemplateSource = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Name}}</title>
  <style>
    body { font-family: -apple-system, Arial, sans-serif; line-height: 1.5; max-width: 960px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { border-collapse: collapse; width: 100%; font-size: 0.85em; }
    th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; vertical-align: top; }
    th { background: #f5f5f5; }
    .key { font-family: monospace; }
    .comment { color: #888; font-size: 0.85em; }
    .state-needs_review { background: #fff7e0; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>
  <div class="meta">Owned by {{.OwnerName}} | Updated {{.UpdatedAt.Format "Jan 2, 2006 15:04"}} | {{len .Rows}} strings</div>
  <table>
    <tr>
      <th>Key</th>
      {{range .Languages}}<th>{{.}}</th>{{end}}
    </tr>
    {{range .Rows}}
    <tr>
      <td class="key">{{.Key}}{{if .Comment}}<div class="comment">{{.Comment}}</div>{{end}}</td>
      {{range .Values}}<td class="state-{{.State}}">{{.Value}}</td>{{end}}
    </tr>
    {{end}}
  </table>
</body>
</html>`
