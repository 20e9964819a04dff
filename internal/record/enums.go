package record

import (
	"fmt"
)

// Status is the processing state carried by every record
type Status uint8

const (
	StatusUnknown Status = iota
	StatusSuccess
	StatusPending
	StatusFailed
)

// Statuses lists every valid status, in wire order
var Statuses = []Status{StatusSuccess, StatusPending, StatusFailed}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusPending:
		return "PENDING"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is one of the wire statuses
func (s Status) Valid() bool {
	return s >= StatusSuccess && s <= StatusFailed
}

// MarshalText encodes the status as its wire string
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("record: cannot encode status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a wire status; unknown strings are rejected
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "SUCCESS":
		*s = StatusSuccess
	case "PENDING":
		*s = StatusPending
	case "FAILED":
		*s = StatusFailed
	default:
		return fmt.Errorf("record: invalid status %q (must be SUCCESS, PENDING or FAILED)", string(text))
	}
	return nil
}

// ResponseCode is the application-level result code in the res_code field
type ResponseCode uint8

const (
	CodeUnknown ResponseCode = iota
	CodeSuccess
	CodeBadRequest
	CodeUnauthorized
	CodeNotFound
	CodeServerError
)

var responseCodeText = map[ResponseCode]string{
	CodeSuccess:      "200",
	CodeBadRequest:   "400",
	CodeUnauthorized: "401",
	CodeNotFound:     "404",
	CodeServerError:  "500",
}

func (c ResponseCode) String() string {
	if text, ok := responseCodeText[c]; ok {
		return text
	}
	return "unknown"
}

// MarshalText encodes the code as its wire string
func (c ResponseCode) MarshalText() ([]byte, error) {
	text, ok := responseCodeText[c]
	if !ok {
		return nil, fmt.Errorf("record: cannot encode response code %d", uint8(c))
	}
	return []byte(text), nil
}

// UnmarshalText decodes a wire code. Codes outside the known set decode to
// CodeUnknown instead of failing: they are still a well-formed rejection.
func (c *ResponseCode) UnmarshalText(text []byte) error {
	for code, wire := range responseCodeText {
		if wire == string(text) {
			*c = code
			return nil
		}
	}
	*c = CodeUnknown
	return nil
}

// LimitFlag is the limitYn request flag
type LimitFlag uint8

const (
	// LimitUnset behaves like LimitYes
	LimitUnset LimitFlag = iota
	LimitYes
	LimitNo
)

// LimitFlagOf maps the collector's boolean limit hint onto the wire flag
func LimitFlagOf(limit bool) LimitFlag {
	if limit {
		return LimitYes
	}
	return LimitNo
}

// Limited reports whether the server should cap the response
func (f LimitFlag) Limited() bool {
	return f != LimitNo
}

func (f LimitFlag) String() string {
	if f.Limited() {
		return "Y"
	}
	return "N"
}

// MarshalText encodes the flag as Y or N
func (f LimitFlag) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText accepts exactly Y or N
func (f *LimitFlag) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Y":
		*f = LimitYes
	case "N":
		*f = LimitNo
	default:
		return fmt.Errorf("record: limitYn must be 'Y' or 'N', got %q", string(text))
	}
	return nil
}
