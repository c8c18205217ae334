// package output writes crawl artifacts to standard output or to a file.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Stdout names standard output as a destination.
const Stdout = "-"

// Open returns the writer for path: standard output when path is empty or
// Stdout, a newly created file otherwise. The returned close function must
// be called once writing is done; it is a no-op for standard output.
func Open(path string) (io.Writer, func() error, error) {
	if path == "" || path == Stdout {
		return os.Stdout, func() error { return nil }, nil
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("could not create output file: %w", err)
	}
	return file, file.Close, nil
}

// WriteJSON encodes v as a single line of JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Write opens path and writes v to it as JSON. Nothing is created before v
// has been encoded, so a failed encoding leaves no partial artifact behind.
func Write(path string, v any) error {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, v); err != nil {
		return fmt.Errorf("could not encode output: %w", err)
	}

	w, closeFn, err := Open(path)
	if err != nil {
		return err
	}

	if _, err := buf.WriteTo(w); err != nil {
		closeFn()
		return fmt.Errorf("could not write output: %w", err)
	}
	return closeFn()
}
