// Package result models the per-student records returned by the result backends.
package result

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/resulta/resulta-proxy/pkg/regno"
)

// Status labels used by this service. Backends may return others.
const (
	StatusError    = "Error"
	StatusTimedOut = "Timed Out"
	StatusNotFound = "Record not found"
)

// UnknownRegNo tags error records that cannot be tied to a registration number.
const UnknownRegNo = "Unknown"

// Record is one student's result, or an error placeholder for one.
// Backend fields other than regNo, status and reason are kept opaque in Fields
// and written back unchanged.
type Record struct {
	RegNo  string
	Status string
	Reason string
	Fields map[string]json.RawMessage
}

// Batch is a group of records fetched together from one upstream call.
type Batch []Record

// IsError reports whether the record carries an error or timeout status.
func (r Record) IsError() bool {
	return strings.Contains(r.Status, StatusError) || r.Status == StatusTimedOut
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Record{}
	for name, dst := range map[string]*string{"regNo": &r.RegNo, "status": &r.Status, "reason": &r.Reason} {
		v, ok := raw[name]
		if !ok {
			continue
		}
		if bytes.Equal(v, []byte("null")) {
			delete(raw, name)
			continue
		}
		// A non-string value stays opaque in Fields.
		if err := json.Unmarshal(v, dst); err == nil {
			delete(raw, name)
		}
	}

	if len(raw) > 0 {
		r.Fields = raw
	}
	return nil
}

// MarshalJSON implements json.Marshaler. Keys are emitted in sorted order, so
// equal records always encode to identical bytes.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	if r.RegNo != "" {
		out["regNo"] = r.RegNo
	}
	if r.Status != "" {
		out["status"] = r.Status
	}
	if r.Reason != "" {
		out["reason"] = r.Reason
	}
	return json.Marshal(out)
}

// IsBad reports whether any record carries an error status. Bad batches are
// never cached.
func (b Batch) IsBad() bool {
	for _, r := range b {
		if r.IsError() {
			return true
		}
	}
	return false
}

// ErrorRecord builds a single error placeholder.
func ErrorRecord(regNo, reason string) Record {
	return Record{RegNo: regNo, Status: StatusError, Reason: reason}
}

// ErrorBatch synthesizes step error records for the batch starting at start.
func ErrorBatch(start string, step int, reason string) Batch {
	if !regno.Valid(start) {
		return Batch{ErrorRecord(start, reason)}
	}

	numbers := regno.BatchNumbers(start, step)
	b := make(Batch, len(numbers))
	for i, n := range numbers {
		b[i] = ErrorRecord(n, reason)
	}
	return b
}

// Merge flattens batches, drops duplicate registration numbers and sorts the
// result ascending by registration number. When a registration number repeats,
// the record seen last wins. Records without a registration number are kept
// individually.
func Merge(batches ...Batch) Batch {
	total := 0
	for _, b := range batches {
		total += len(b)
	}

	merged := make(Batch, 0, total)
	index := make(map[string]int, total)
	for _, b := range batches {
		for _, r := range b {
			if r.RegNo == "" {
				merged = append(merged, r)
				continue
			}
			if i, ok := index[r.RegNo]; ok {
				merged[i] = r
				continue
			}
			index[r.RegNo] = len(merged)
			merged = append(merged, r)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].RegNo < merged[j].RegNo
	})
	return merged
}
