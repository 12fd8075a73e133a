package wechat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
)

// Common errors
var (
	// ErrInvalidConfig indicates invalid client configuration
	ErrInvalidConfig = errors.New("invalid wechat configuration")
	// ErrMissingAppID indicates the app id was not supplied
	ErrMissingAppID = fmt.Errorf("%w: app id is required", ErrInvalidConfig)
	// ErrMissingAppSecret indicates the app secret was not supplied
	ErrMissingAppSecret = fmt.Errorf("%w: app secret is required", ErrInvalidConfig)
)

// Codes the client assigns itself. Platform errcodes and HTTP statuses never
// fall in this range.
const (
	// CodeInvalidResponse is returned when a 200 body is not a JSON object
	CodeInvalidResponse = 9999
	// CodeRequestFailed is returned when no HTTP response was received
	CodeRequestFailed = 9998
	// CodeInvalidRequest is returned when a request could not be built
	CodeInvalidRequest = 9997
)

// Platform errcodes that mean the access token is unusable.
const (
	CodeInvalidCredential  = 40001
	CodeInvalidAccessToken = 40014
	CodeAccessTokenExpired = 42001
	CodeAccessTokenMissing = 41001
)

// APIError is the single failure shape returned by every call. Code is an HTTP
// status for transport failures, CodeInvalidResponse for undecodable bodies, or
// the platform errcode for domain failures.
type APIError struct {
	Code    int
	Message string
	// Err is the underlying cause when there is one (network error, encoder error)
	Err error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wechat api error: [%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("wechat api error: [%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsTransport checks if the error carries a non-200 HTTP status
func (e *APIError) IsTransport() bool {
	return e.Code >= 100 && e.Code < 600 && e.Code != http.StatusOK
}

// IsProtocol checks if the response body could not be decoded
func (e *APIError) IsProtocol() bool {
	return e.Code == CodeInvalidResponse
}

// IsDomain checks if the error was reported by the platform through errcode
func (e *APIError) IsDomain() bool {
	return !e.IsTransport() && e.Code != CodeInvalidResponse &&
		e.Code != CodeRequestFailed && e.Code != CodeInvalidRequest
}

// IsInvalidCredential checks if the platform rejected the access token
func (e *APIError) IsInvalidCredential() bool {
	switch e.Code {
	case CodeInvalidCredential, CodeInvalidAccessToken, CodeAccessTokenExpired, CodeAccessTokenMissing:
		return true
	}
	return false
}

// AsAPIError extracts an *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func newHTTPError(status int) *APIError {
	return &APIError{Code: status, Message: "http error"}
}

func newInvalidResponseError(cause error) *APIError {
	return &APIError{Code: CodeInvalidResponse, Message: "invalid response", Err: cause}
}

func newRequestFailedError(cause error) *APIError {
	return &APIError{Code: CodeRequestFailed, Message: "request failed", Err: cause}
}

func newInvalidRequestError(cause error) *APIError {
	return &APIError{Code: CodeInvalidRequest, Message: "invalid request", Err: cause}
}

// Normalize classifies a raw HTTP response. Order matters: the status is
// checked before the body is parsed, and errcode only after a successful parse.
func Normalize(status int, body []byte) (Payload, *APIError) {
	if status != http.StatusOK {
		return nil, newHTTPError(status)
	}

	payload, err := decodePayload(body)
	if err != nil {
		return nil, newInvalidResponseError(err)
	}

	raw, ok := payload["errcode"]
	if !ok {
		return payload, nil
	}
	code, err := errcodeValue(raw)
	if err != nil {
		return nil, newInvalidResponseError(err)
	}
	if code != 0 {
		msg, _ := payload["errmsg"].(string)
		return nil, &APIError{Code: code, Message: msg}
	}

	return payload, nil
}

// decodePayload decodes body as exactly one JSON object.
func decodePayload(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload Payload
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errors.New("response is not a JSON object")
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	return payload, nil
}

func errcodeValue(v any) (int, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
		// 40001.0 and 1e3 still name a code
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return 0, fmt.Errorf("errcode %q is not an integer", n.String())
		}
		return int(f), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("errcode %q is not an integer", n)
		}
		return i, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("errcode has unexpected type %T", v)
	}
}
