// Package page provides the device UI document the console renders into.
package page

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"tankview/internal/dom"
)

//go:embed index.html
var defaultPage []byte

// HTML returns the raw built-in page.
func HTML() []byte {
	return bytes.Clone(defaultPage)
}

// Default returns the built-in device page.
func Default() (*dom.Document, error) {
	return dom.Parse(bytes.NewReader(defaultPage))
}

// Load parses the page at path, or the built-in page when path is empty.
func Load(path string) (*dom.Document, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read page file: %w", err)
	}
	return dom.Parse(bytes.NewReader(data))
}
