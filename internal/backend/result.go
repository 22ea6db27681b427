package backend

import (
	"fmt"
	"strings"
)

// FailureKind classifies why a backend call produced no text.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureTransport   FailureKind = "transport"
	FailureStatus      FailureKind = "http_status"
	FailureEmpty       FailureKind = "empty_response"
	FailureFiltered    FailureKind = "filtered"
	FailureUnsupported FailureKind = "unsupported_protocol"
	FailureInternal    FailureKind = "internal"
)

// Failure describes an unsuccessful call.
type Failure struct {
	Kind       FailureKind
	StatusCode int
	Detail     string
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	if f.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", f.Kind, f.StatusCode, f.Detail)
	}
	if f.Detail == "" {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// Result is either generated text or a Failure.
type Result struct {
	Text    string
	Failure *Failure
}

// Success wraps generated text.
func Success(text string) Result {
	return Result{Text: strings.TrimSpace(text)}
}

// Fail builds a failed Result.
func Fail(kind FailureKind, detail string) Result {
	return Result{Failure: &Failure{Kind: kind, Detail: strings.TrimSpace(detail)}}
}

// FailStatus builds a failed Result for a non-2xx response.
func FailStatus(status int, detail string) Result {
	return Result{Failure: &Failure{Kind: FailureStatus, StatusCode: status, Detail: strings.TrimSpace(detail)}}
}

// OK reports whether the call produced text.
func (r Result) OK() bool {
	return r.Failure == nil
}

// CellValue serializes the result for storage. Failures become sentinel strings.
func (r Result) CellValue(backendName string) string {
	if r.OK() {
		return r.Text
	}
	return FormatFailure(backendName, r.Failure)
}
