package storage

import (
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// CountPDFPages reads the page tree of a PDF. Malformed documents can panic
// inside the parser, so panics are turned into errors.
func CountPDFPages(r io.ReaderAt, size int64) (pages int, err error) {
	if size <= 0 {
		return 0, fmt.Errorf("empty pdf")
	}
	defer func() {
		if rec := recover(); rec != nil {
			pages = 0
			err = fmt.Errorf("parse pdf: %v", rec)
		}
	}()
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return doc.NumPage(), nil
}
