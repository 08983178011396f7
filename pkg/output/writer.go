package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/pretty"

	"optfilter/pkg/instrument"
)

var ErrWrite = errors.New("output could not be written")

// Encode renders records as a pretty-printed JSON array. Each record is
// emitted from its original bytes, so key order and unknown fields survive.
func Encode(records []instrument.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		raw := r.Raw()
		if len(raw) == 0 {
			var err error
			if raw, err = json.Marshal(r); err != nil {
				return nil, err
			}
		}
		buf.Write(raw)
	}
	buf.WriteByte(']')

	if !json.Valid(buf.Bytes()) {
		return nil, errors.New("records do not form valid json")
	}
	return pretty.Pretty(buf.Bytes()), nil
}

// WriteJSON creates path (and its directory) and writes the records to it.
func WriteJSON(path string, records []instrument.Record) error {
	data, err := Encode(records)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}
	return nil
}
