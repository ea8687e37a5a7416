package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"

	"parley/api/internal/contract"
)

//go:embed templates/*.html
var templateFS embed.FS

var contractTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
	}

	templateContent, err := templateFS.ReadFile("templates/contract.html")
	if err != nil {
		// Fallback to built-in template if file not found
		contractTemplate = template.Must(template.New("contract").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	contractTemplate = template.Must(template.New("contract").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for contract template rendering
type TemplateData struct {
	Title               string
	Preamble            string
	ApplicableStandards []string
	Chapters            []TemplateChapter
	Closing             string
}

// TemplateChapter holds chapter data for template
type TemplateChapter struct {
	Title    string
	Sections []TemplateSection
}

// TemplateSection holds section data for template
type TemplateSection struct {
	Title   string
	Content string
}

func templateData(doc Document) TemplateData {
	data := TemplateData{
		Title:               doc.Title,
		Preamble:            doc.Preamble,
		ApplicableStandards: doc.ApplicableStandards,
		Closing:             doc.Closing,
	}
	for _, chapter := range doc.Chapters {
		tc := TemplateChapter{Title: chapter.Title}
		for _, section := range chapter.Sections {
			tc.Sections = append(tc.Sections, TemplateSection{
				Title:   section.Title,
				Content: contract.ExportContent(section),
			})
		}
		data.Chapters = append(data.Chapters, tc)
	}
	return data
}

// RenderContractHTML renders the contract template with provided data
func RenderContractHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := contractTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { text-align: center; }
    .chapter { page-break-before: always; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{if .Preamble}}<p>{{.Preamble}}</p>{{end}}
  {{range .Chapters}}
  <div class="chapter">
    <h2>{{.Title}}</h2>
    {{range .Sections}}<h3>{{.Title}}</h3><p>{{.Content}}</p>{{end}}
  </div>
  {{end}}
  {{if .Closing}}<p>{{.Closing}}</p>{{end}}
</body>
</html>`
