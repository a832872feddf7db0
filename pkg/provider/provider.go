// Package provider defines the remote search provider boundary and the
// Tavily implementation of it.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Endpoint names one provider operation.
type Endpoint string

const (
	EndpointSearch  Endpoint = "search"
	EndpointExtract Endpoint = "extract"
	EndpointCrawl   Endpoint = "crawl"
	EndpointMap     Endpoint = "map"
)

// ErrTimeout marks calls that hit the outbound timeout.
var ErrTimeout = errors.New("request timed out")

// Provider is a remote search backend. Call performs one request with exactly
// one credential and returns the raw JSON document.
type Provider interface {
	// Name returns a short identifier used in logs and metrics.
	Name() string

	// Call sends params to endpoint authenticated with apiKey.
	// The context should carry a deadline.
	Call(ctx context.Context, endpoint Endpoint, apiKey string, params any) ([]byte, error)
}

// RemoteError is a non-2xx answer from the provider.
type RemoteError struct {
	Endpoint Endpoint
	Status   int
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote call failed: %s returned status %d: %s", e.Endpoint, e.Status, e.Message)
}

// StatusCode returns the HTTP status the provider answered with.
func (e *RemoteError) StatusCode() int { return e.Status }

// IsAuthError reports whether the provider rejected the credential.
func (e *RemoteError) IsAuthError() bool { return e.Status == 401 || e.Status == 403 }
