// Package graph is the OneDrive backend of cloudtree: a drive-scoped Graph
// API client that retries transient failures and turns HTTP statuses into
// matchable errors.
package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// Status sentinels. Every non-2xx response is returned as a *GraphError
// wrapping one of these when the status has one.
var (
	ErrBadRequest          = errors.New("graph: bad request")
	ErrUnauthorized        = errors.New("graph: unauthorized")
	ErrForbidden           = errors.New("graph: forbidden")
	ErrNotFound            = errors.New("graph: not found")
	ErrConflict            = errors.New("graph: conflict")
	ErrGone                = errors.New("graph: resource gone")
	ErrPreconditionFailed  = errors.New("graph: precondition failed")
	ErrThrottled           = errors.New("graph: throttled")
	ErrLocked              = errors.New("graph: resource locked")
	ErrInsufficientStorage = errors.New("graph: insufficient storage")
	ErrServerError         = errors.New("graph: server error")
)

var statusSentinels = map[int]error{
	http.StatusBadRequest:          ErrBadRequest,
	http.StatusUnauthorized:        ErrUnauthorized,
	http.StatusForbidden:           ErrForbidden,
	http.StatusNotFound:            ErrNotFound,
	http.StatusConflict:            ErrConflict,
	http.StatusGone:                ErrGone,
	http.StatusPreconditionFailed:  ErrPreconditionFailed,
	http.StatusTooManyRequests:     ErrThrottled,
	http.StatusLocked:              ErrLocked,
	http.StatusInsufficientStorage: ErrInsufficientStorage,
}

// statusBandwidthExceeded is SharePoint's 509, sent when a tenant is over its
// transfer allowance for the moment.
const statusBandwidthExceeded = 509

// retryStatuses are answered by waiting and sending the request again.
var retryStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	statusBandwidthExceeded:        true,
}

// GraphError is a failed Graph response. Err is the status sentinel (nil
// for statuses without one); Message is the raw error body.
type GraphError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error
}

func (e *GraphError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("graph: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
}

func (e *GraphError) Unwrap() error { return e.Err }

// classifyStatus returns the sentinel for code. Any other 5xx is
// ErrServerError; remaining codes have none.
func classifyStatus(code int) error {
	if err, ok := statusSentinels[code]; ok {
		return err
	}

	if code >= http.StatusInternalServerError {
		return ErrServerError
	}

	return nil
}

func isRetryable(code int) bool { return retryStatuses[code] }
