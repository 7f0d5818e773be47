// Package jsonextract recovers a JSON object from free-form language model
// output.
//
// Models that are instructed to answer with JSON still wrap it in markdown
// fences or surround it with prose often enough that every call site must
// treat the raw completion as untrusted text. [Extract] applies a fixed
// fallback order:
//
//  1. the contents of the first fenced block tagged as json (```json … ```);
//  2. otherwise the substring from the first '{' to the last '}' inclusive.
//
// The candidate is then checked for syntactic validity. No validation of the
// object's shape happens here; that is the caller's job.
package jsonextract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedResponse is matched (via errors.Is) by every error returned
// from [Extract] and [Decode].
var ErrMalformedResponse = errors.New("malformed model response")

// maxRawInError caps how much of the raw text ends up in Error().
const maxRawInError = 200

// fencedJSON matches a ```json fenced block. The tag is case-insensitive and
// the content is captured lazily so the first closing fence wins.
var fencedJSON = regexp.MustCompile("(?is)```json\\s*(.+?)\\s*```")

// MalformedResponseError carries the raw model text for diagnostics.
type MalformedResponseError struct {
	// Raw is the complete, unmodified model output.
	Raw string

	// Reason describes which step failed.
	Reason string

	// Err is the underlying parse error, if any.
	Err error
}

// Error implements error.
func (e *MalformedResponseError) Error() string {
	raw := e.Raw
	if len(raw) > maxRawInError {
		raw = raw[:maxRawInError] + "…"
	}
	if e.Err != nil {
		return fmt.Sprintf("jsonextract: %s: %v (raw: %q)", e.Reason, e.Err, raw)
	}
	return fmt.Sprintf("jsonextract: %s (raw: %q)", e.Reason, raw)
}

// Is reports whether target is [ErrMalformedResponse].
func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}

// Unwrap returns the underlying parse error.
func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Extract returns the first JSON object found in text. The returned bytes are
// syntactically valid JSON. On failure the error is a *MalformedResponseError.
func Extract(text string) (json.RawMessage, error) {
	candidate, ok := candidate(text)
	if !ok {
		return nil, &MalformedResponseError{Raw: text, Reason: "no json object found"}
	}
	if !json.Valid([]byte(candidate)) {
		// Run a real decode to get a useful position in the error message.
		var v any
		err := json.Unmarshal([]byte(candidate), &v)
		return nil, &MalformedResponseError{Raw: text, Reason: "invalid json", Err: err}
	}
	return json.RawMessage(candidate), nil
}

// Decode extracts the JSON object from text and unmarshals it into v.
func Decode(text string, v any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &MalformedResponseError{Raw: text, Reason: "decode", Err: err}
	}
	return nil
}

// candidate applies the fenced-block-then-braces fallback order.
func candidate(text string) (string, bool) {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}
