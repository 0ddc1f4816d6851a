// Package source provides the snapshot sources the reconciler polls and the
// auxiliary metadata directory used for info panels.
package source

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/signalsfoundry/globe-tracker/model"
)

var (
	// ErrBadStatus is returned when an upstream answers with a non-200 status.
	ErrBadStatus = errors.New("unexpected upstream status")
	// ErrMalformedFeed is returned when a response body cannot be decoded.
	ErrMalformedFeed = errors.New("malformed feed")
	// ErrInvalidTLE is returned for element sets that fail validation.
	ErrInvalidTLE = errors.New("invalid TLE")
)

// Func adapts a plain function to a snapshot source.
type Func func(ctx context.Context) ([]model.Record, error)

func (f Func) Fetch(ctx context.Context) ([]model.Record, error) { return f(ctx) }

// newHTTPClient returns a client with a hard timeout whose transport emits
// client spans.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
