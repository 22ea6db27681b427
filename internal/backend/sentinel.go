package backend

import (
	"fmt"
	"strings"
)

// FailurePrefix starts every failure cell. Readers of the workbook rely on it:
// a cell is a failure when it begins with "Error (" or "Error:".
const FailurePrefix = "Error"

// FormatFailure renders a failure as the cell text stored for backendName.
func FormatFailure(backendName string, f *Failure) string {
	if f == nil {
		return ""
	}
	label := fmt.Sprintf("%s (%s):", FailurePrefix, backendName)
	switch f.Kind {
	case FailureTimeout:
		return label + " API request timed out."
	case FailureStatus:
		return fmt.Sprintf("%s API request failed. Status: %d. Detail: %s", label, f.StatusCode, f.Detail)
	case FailureTransport:
		return fmt.Sprintf("%s API request failed. Exception: %s", label, f.Detail)
	case FailureEmpty:
		return joinDetail(label+" No content in response.", f.Detail)
	case FailureFiltered:
		return joinDetail(label+" Response blocked.", f.Detail)
	case FailureUnsupported:
		return fmt.Sprintf("%s: Unsupported API type '%s'", FailurePrefix, f.Detail)
	default:
		return joinDetail(label+" Processing API response failed.", f.Detail)
	}
}

// FormatRowFailure renders an engine-level error caught at the row boundary.
func FormatRowFailure(err error) string {
	if err == nil {
		return FailurePrefix + ": processing row failed"
	}
	return fmt.Sprintf("%s: processing row failed: %v", FailurePrefix, err)
}

// IsFailure reports whether a stored cell holds a failure sentinel.
func IsFailure(value string) bool {
	rest, ok := strings.CutPrefix(value, FailurePrefix)
	if !ok {
		return false
	}
	return strings.HasPrefix(rest, " (") || strings.HasPrefix(rest, ":")
}

func joinDetail(message, detail string) string {
	if strings.TrimSpace(detail) == "" {
		return message
	}
	return message + " " + detail
}
