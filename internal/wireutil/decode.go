// Package wireutil holds a tiny helper shared by the upload and
// download engines: BackendResponse.Data arrives as a generic `any`
// (a map[string]any once it has crossed a real bus's JSON encoding),
// so engines need one common way to decode it back into a typed
// struct.
package wireutil

import (
	"encoding/json"
	"fmt"
)

// DecodeInto round-trips data through JSON into target, which must be
// a pointer. It works whether data is already the concrete Go type
// (produced by an in-process test double) or a map[string]any
// (produced by a real JSON-speaking transport).
func DecodeInto(data any, target any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("wireutil: marshal: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("wireutil: unmarshal: %w", err)
	}
	return nil
}
