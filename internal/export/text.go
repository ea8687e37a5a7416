package export

import (
	"strings"

	"parley/api/internal/contract"
)

// chapterDelimiter separates chapters in the plain-text form.
const chapterDelimiter = "--------------------------------------------------"

// renderText flattens the document to UTF-8 plain text: title, preamble,
// the applicable-standards list, then each chapter's title and its sections'
// title plus exported content, then the closing. Sections are separated by a
// blank line, chapters by a delimiter line. Each section renders
// finalContent when approved, the working draft otherwise.
func renderText(doc Document) string {
	var b strings.Builder

	b.WriteString(doc.Title)
	b.WriteString("\n\n")
	if doc.Preamble != "" {
		b.WriteString(doc.Preamble)
		b.WriteString("\n\n")
	}
	if len(doc.ApplicableStandards) > 0 {
		b.WriteString("Applicable standards:\n")
		for _, std := range doc.ApplicableStandards {
			b.WriteString("- ")
			b.WriteString(std)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	for _, chapter := range doc.Chapters {
		b.WriteString(chapterDelimiter)
		b.WriteString("\n")
		b.WriteString(chapter.Title)
		b.WriteString("\n\n")
		for i, section := range chapter.Sections {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(section.Title)
			b.WriteString("\n")
			b.WriteString(contract.ExportContent(section))
			b.WriteString("\n")
		}
	}

	if doc.Closing != "" {
		b.WriteString("\n")
		b.WriteString(doc.Closing)
		b.WriteString("\n")
	}

	return b.String()
}

func exportText(doc Document) (*Result, error) {
	return &Result{
		Data:     []byte(renderText(doc)),
		Filename: "contract.txt",
		MimeType: "text/plain; charset=utf-8",
	}, nil
}
