// Package observability provides an extension that records lease and
// workflow lifecycle metrics through OpenTelemetry.
package observability
