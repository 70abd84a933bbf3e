package plaid

import "fmt"

// APIError is a non-2xx response from the provider, carrying the decoded
// error envelope when one was present.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorType  string `json:"error_type"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"error_message"`
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("plaid: %s/%s (status %d): %s", e.ErrorType, e.ErrorCode, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("plaid: request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsAuth reports whether the error means the credential itself was rejected,
// as opposed to a transport or provider-side failure.
func (e *APIError) IsAuth() bool {
	switch e.ErrorCode {
	case "INVALID_ACCESS_TOKEN", "INVALID_PUBLIC_TOKEN", "ITEM_LOGIN_REQUIRED":
		return true
	}
	return e.StatusCode == 401
}
