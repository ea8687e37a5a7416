package export

import "fmt"

// Service renders contract documents in the supported output formats.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Export generates an export in the requested format. Ordering of chapters
// and sections follows the document tree exactly in both formats.
func (s *Service) Export(doc Document, format Format) (*Result, error) {
	switch format {
	case FormatText:
		return exportText(doc)
	case FormatPDF:
		html, err := RenderContractHTML(templateData(doc))
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportPDF(html)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
