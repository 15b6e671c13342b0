package bridge

import (
	"encoding/json"
	"log"
)

// sanitize strips non-serialisable values from an outbound payload
// before it crosses the bus (spec.md §4.7: "Message payloads are
// sanitised on send"), by round-tripping through JSON — the value that
// survives is exactly what a real opaque byte channel could carry.
// A payload that can't be marshalled at all (e.g. a bare channel or
// func) is dropped with a log line rather than failing the send; it
// was never going to survive a real postMessage-style bus either.
func sanitize(payload any) any {
	if payload == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("bridge: dropping non-serialisable payload: %v", err)
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Printf("bridge: payload round-trip failed: %v", err)
		return nil
	}
	return out
}
