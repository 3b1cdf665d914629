// Package telemetry configures optional error reporting. Reporting is off
// unless a Sentry DSN is supplied; every entry point is safe to call without
// one.
package telemetry

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"

	"github.com/queuectl/queuectl/pkg/build"
)

// SetupErrorReporting configures the Sentry SDK for error reporting.
func SetupErrorReporting(sentryDSN, environment string) error {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:           sentryDSN,
		Environment:   environment,
		Release:       build.Version,
		Transport:     sentry.NewHTTPSyncTransport(),
		EnableTracing: false,
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	return nil
}

// ReportError reports an error to Sentry. A no-op when reporting was never
// set up.
func ReportError(ctx context.Context, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub != nil {
		hub.CaptureException(err)
	} else {
		sentry.CaptureException(err)
	}
}
