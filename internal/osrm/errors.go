package osrm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Reason is the discriminated failure kind for a single route request.
// Row-level consumers record the reason and continue; nothing here aborts a
// batch.
type Reason string

const (
	ReasonInvalidRequest    Reason = "invalid_request"
	ReasonNoRoute           Reason = "no_route"
	ReasonUnreachable       Reason = "unreachable"
	ReasonTimeout           Reason = "timeout"
	ReasonCancelled         Reason = "cancelled"
	ReasonMalformedResponse Reason = "malformed_response"
)

// RouteError carries the failure kind for one route request.
type RouteError struct {
	Kind    Reason
	Message string
}

func (e *RouteError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ReasonOf extracts the failure kind from an error, defaulting to
// malformed_response for anything unclassified.
func ReasonOf(err error) Reason {
	var re *RouteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ReasonMalformedResponse
}

// classifyTransport maps transport-level failures onto the taxonomy.
// Cancellation wins over timeout: a cancelled context often surfaces as a
// wrapped deadline/cancel mix depending on where the abort landed.
func classifyTransport(ctx context.Context, err error) *RouteError {
	switch {
	case ctx.Err() == context.Canceled:
		return &RouteError{Kind: ReasonCancelled, Message: "cancelled"}
	case errors.Is(err, context.Canceled):
		return &RouteError{Kind: ReasonCancelled, Message: "cancelled"}
	case errors.Is(err, context.DeadlineExceeded):
		return &RouteError{Kind: ReasonTimeout, Message: "request timed out"}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &RouteError{Kind: ReasonTimeout, Message: "request timed out"}
	}
	// Connection refused, DNS failure, broken pipe: the daemon is unreachable.
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") ||
		errors.As(err, new(*net.OpError)) {
		return &RouteError{Kind: ReasonUnreachable, Message: msg}
	}
	return &RouteError{Kind: ReasonUnreachable, Message: msg}
}
