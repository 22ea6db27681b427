package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

const maxDetailLength = 2000

// IsTimeout reports whether err came from a deadline or a network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// ErrorDetail extracts a machine-readable error from a response body. Bodies of
// the form {"error": {...}} yield the nested message, other JSON is compacted,
// anything else is returned as raw text.
func ErrorDetail(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "empty response body"
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Error) > 0 {
		var nested struct {
			Code    interface{} `json:"code"`
			Message string      `json:"message"`
			Status  string      `json:"status"`
			Type    string      `json:"type"`
		}
		if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
			parts := []string{nested.Message}
			if nested.Status != "" {
				parts = append(parts, "status="+nested.Status)
			}
			if nested.Type != "" {
				parts = append(parts, "type="+nested.Type)
			}
			if nested.Code != nil {
				parts = append(parts, fmt.Sprintf("code=%v", nested.Code))
			}
			return truncate(strings.Join(parts, " "))
		}
	}

	if json.Valid(trimmed) {
		var compact bytes.Buffer
		if err := json.Compact(&compact, trimmed); err == nil {
			return truncate(compact.String())
		}
	}

	return truncate(string(trimmed))
}

func truncate(value string) string {
	runes := []rune(value)
	if len(runes) <= maxDetailLength {
		return value
	}
	return string(runes[:maxDetailLength]) + "..."
}
