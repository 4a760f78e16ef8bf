package wallet

import (
	"errors"
	"fmt"
)

// EIP-1193 / EIP-1474 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnrecognizedChain = 4902

	CodeInvalidParams = -32602
	CodeInternal      = -32603
)

// ProviderError is the error shape reported by wallet requests.
type ProviderError struct {
	Code    int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func newProviderError(code int, msg string, err error) *ProviderError {
	return &ProviderError{Code: code, Message: msg, Err: err}
}

// ErrorCode extracts the provider error code from err, or 0.
func ErrorCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

// IsUserRejected reports whether the user declined the request.
func IsUserRejected(err error) bool {
	return ErrorCode(err) == CodeUserRejected
}

// IsUnrecognizedChain reports whether the wallet does not know the chain.
func IsUnrecognizedChain(err error) bool {
	return ErrorCode(err) == CodeUnrecognizedChain
}
