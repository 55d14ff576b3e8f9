package parser

import (
	"bytes"
	"fmt"

	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/ledongthuc/pdf"
)

const headerWindow = 1024

// ValidateDocument checks that document looks like a PDF container that the
// reader can open. It does not extract anything.
func ValidateDocument(document []byte) (err error) {
	if len(document) == 0 {
		return domain.ErrEmptyDocument
	}

	head := document
	if len(head) > headerWindow {
		head = head[:headerWindow]
	}
	if !bytes.Contains(head, []byte("%PDF-")) {
		return fmt.Errorf("%w: missing %%PDF- header", domain.ErrInvalidDocument)
	}
	if !bytes.Contains(tail(document, headerWindow), []byte("%%EOF")) {
		return fmt.Errorf("%w: missing %%%%EOF trailer", domain.ErrInvalidDocument)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", domain.ErrInvalidDocument, recovered)
		}
	}()
	if _, openErr := pdf.NewReader(bytes.NewReader(document), int64(len(document))); openErr != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidDocument, openErr)
	}
	return nil
}

func tail(document []byte, n int) []byte {
	if len(document) <= n {
		return document
	}
	return document[len(document)-n:]
}
