package instrument

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrShape = errors.New("expected an array of records or an object with a data array")

// Record is one instrument entry. Only name, expiry and strike_price are
// decoded; the original bytes are kept and written back unchanged.
type Record struct {
	Name        string
	Expiry      *int64 // epoch milliseconds
	StrikePrice *float64

	raw json.RawMessage
}

type recordFields struct {
	Name        json.RawMessage `json:"name"`
	Expiry      json.RawMessage `json:"expiry"`
	StrikePrice json.RawMessage `json:"strike_price"`
}

// UnmarshalJSON never fails on a well formed value. Fields with the wrong
// type are left unset so the record simply never matches a filter.
func (r *Record) UnmarshalJSON(b []byte) error {
	r.raw = append(json.RawMessage(nil), b...)
	r.Name, r.Expiry, r.StrikePrice = "", nil, nil

	var f recordFields
	if err := json.Unmarshal(b, &f); err != nil {
		// not an object
		return nil
	}

	if len(f.Name) > 0 {
		var name string
		if json.Unmarshal(f.Name, &name) == nil {
			r.Name = name
		}
	}

	if len(f.Expiry) > 0 {
		if ms, err := strconv.ParseInt(string(f.Expiry), 10, 64); err == nil {
			r.Expiry = &ms
		}
	}

	if isNumber(f.StrikePrice) {
		var strike float64
		if json.Unmarshal(f.StrikePrice, &strike) == nil {
			r.StrikePrice = &strike
		}
	}

	return nil
}

// MarshalJSON writes the bytes the record was decoded from. Records built in
// code fall back to the three known fields.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}

	out := struct {
		Name        string   `json:"name"`
		Expiry      *int64   `json:"expiry,omitempty"`
		StrikePrice *float64 `json:"strike_price,omitempty"`
	}{r.Name, r.Expiry, r.StrikePrice}
	return json.Marshal(out)
}

// Raw returns the verbatim JSON of the record, or nil for records built in code.
func (r Record) Raw() json.RawMessage {
	return r.raw
}

func (r Record) String() string {
	expiry, strike := "-", "-"
	if r.Expiry != nil {
		expiry = strconv.FormatInt(*r.Expiry, 10)
	}
	if r.StrikePrice != nil {
		strike = strconv.FormatFloat(*r.StrikePrice, 'f', -1, 64)
	}
	return fmt.Sprintf("%s expiry=%s strike=%s", r.Name, expiry, strike)
}

// DecodeCollection accepts either a bare array of records or an object
// holding the array under "data".
func DecodeCollection(content []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, ErrShape
	}

	switch trimmed[0] {
	case '[':
		var records []Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return nonNil(records), nil
	case '{':
		var wrapped struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, err
		}
		data := bytes.TrimSpace(wrapped.Data)
		if len(data) == 0 || data[0] != '[' {
			return nil, ErrShape
		}
		var records []Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return nonNil(records), nil
	}

	// Let the decoder describe what is wrong with the content.
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return nil, ErrShape
}

func isNumber(b json.RawMessage) bool {
	if len(b) == 0 {
		return false
	}
	c := b[0]
	return c == '-' || (c >= '0' && c <= '9')
}

func nonNil(records []Record) []Record {
	if records == nil {
		return []Record{}
	}
	return records
}
