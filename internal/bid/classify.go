package bid

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Dedenruslan19/bidload/internal/loadtest"
)

// Reason refines a classification.
type Reason string

const (
	ReasonAccepted  Reason = "accepted"
	ReasonTooLow    Reason = "too_low"
	ReasonDuplicate Reason = "duplicate"
	ReasonConflict  Reason = "conflict"
	ReasonStatus    Reason = "unexpected_status"
	ReasonTransport Reason = "transport"
	ReasonTimeout   Reason = "timeout"
)

// Classification is the verdict for one bid response.
type Classification struct {
	Result loadtest.Result
	Reason Reason
}

var (
	tooLow    = []byte("too low")
	duplicate = []byte("duplicate")
)

// Classify maps a bid response to success, business rejection or failure.
//
// 200 and 201 are successes. 409 is a rejection, refined by a
// case-insensitive search of the body for "too low" or "duplicate". Every
// other status, a transport error and a timeout are failures.
func Classify(status int, body []byte, err error) Classification {
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return Classification{Result: loadtest.ResultFailed, Reason: ReasonTimeout}
		}
		return Classification{Result: loadtest.ResultFailed, Reason: ReasonTransport}
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		return Classification{Result: loadtest.ResultSuccess, Reason: ReasonAccepted}
	case http.StatusConflict:
		lower := bytes.ToLower(body)
		switch {
		case bytes.Contains(lower, tooLow):
			return Classification{Result: loadtest.ResultRejected, Reason: ReasonTooLow}
		case bytes.Contains(lower, duplicate):
			return Classification{Result: loadtest.ResultRejected, Reason: ReasonDuplicate}
		default:
			return Classification{Result: loadtest.ResultRejected, Reason: ReasonConflict}
		}
	default:
		return Classification{Result: loadtest.ResultFailed, Reason: ReasonStatus}
	}
}

// ErrorMessage extracts a readable message from an error response body:
// the JSON "message" or "error" field, else the body truncated to 100 bytes.
func ErrorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"message", "error", "error.message"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
				return r.String()
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}

// failureError builds the error reported for a failed bid.
func failureError(resp Response) error {
	if resp.Err != nil {
		return resp.Err
	}
	return fmt.Errorf("unexpected status %d: %s", resp.Status, ErrorMessage(resp.Body))
}
