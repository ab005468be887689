package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bft-labs/logship/internal/domain"
)

// APIError is an error response of the service.
type APIError struct {
	StatusCode int
	Type       string
	Message    string

	// ExpectedSequenceToken is set on InvalidSequenceTokenException and
	// DataAlreadyAcceptedException. HasExpected is false when absent.
	ExpectedSequenceToken string
	HasExpected           bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Type)
	}
	return fmt.Sprintf("server returned %d: %s: %s", e.StatusCode, e.Type, e.Message)
}

type networkError struct {
	err error
}

func (e *networkError) Error() string { return e.err.Error() }
func (e *networkError) Unwrap() error { return e.err }

func parseAPIError(status int, body []byte) *APIError {
	var raw struct {
		Type                  string  `json:"__type"`
		Message               string  `json:"message"`
		MessageUpper          string  `json:"Message"`
		ExpectedSequenceToken *string `json:"expectedSequenceToken"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, &raw); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	// "com.amazonaws.logs#ResourceNotFoundException" -> "ResourceNotFoundException"
	apiErr.Type = raw.Type
	if i := strings.LastIndexByte(apiErr.Type, '#'); i >= 0 {
		apiErr.Type = apiErr.Type[i+1:]
	}
	apiErr.Message = raw.Message
	if apiErr.Message == "" {
		apiErr.Message = raw.MessageUpper
	}
	if raw.ExpectedSequenceToken != nil {
		apiErr.ExpectedSequenceToken = *raw.ExpectedSequenceToken
		apiErr.HasExpected = true
	}
	return apiErr
}

// classify maps a failed call to a delivery outcome.
func classify(err error) domain.Outcome {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		var netErr *networkError
		if errors.As(err, &netErr) {
			return domain.Transient(err)
		}
		return domain.Permanent(err)
	}

	switch apiErr.Type {
	case "InvalidSequenceTokenException":
		return domain.StaleToken(apiErr.ExpectedSequenceToken, apiErr.HasExpected, err)
	case "DataAlreadyAcceptedException":
		if apiErr.HasExpected {
			return domain.Duplicate(apiErr.ExpectedSequenceToken)
		}
		return domain.StaleToken("", false, err)
	case "ResourceNotFoundException":
		return domain.TargetMissing(err)
	case "ThrottlingException", "ServiceUnavailableException", "RequestTimeout", "RequestTimeoutException":
		return domain.Transient(err)
	}
	if apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests {
		return domain.Transient(err)
	}
	return domain.Permanent(err)
}

// createError maps a failed create call to the sentinels the controller checks.
func createError(err error) error {
	if err == nil {
		return nil
	}
	if isAlreadyExists(err) {
		return fmt.Errorf("%w: %v", domain.ErrAlreadyExists, err)
	}
	return markTransient(err)
}

// markTransient wraps err with domain.ErrTransientDelivery when a retry may succeed.
func markTransient(err error) error {
	if err != nil && classify(err).Kind == domain.OutcomeTransient {
		return fmt.Errorf("%w: %v", domain.ErrTransientDelivery, err)
	}
	return err
}

func isAlreadyExists(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == "ResourceAlreadyExistsException"
}
