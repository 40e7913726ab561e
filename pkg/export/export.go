package export

import "fmt"

// Dataset is tabular export content. Rows are keyed by header name so sparse
// columns render as empty cells.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
}

// Exporter renders a dataset into a downloadable document.
type Exporter interface {
	Render(data Dataset) ([]byte, error)
	ContentType() string
	Extension() string
}

// ForFormat returns the exporter for a format name.
func ForFormat(format string) (Exporter, error) {
	switch format {
	case "csv", "":
		return &CSVExporter{}, nil
	case "pdf":
		return &PDFExporter{}, nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}
