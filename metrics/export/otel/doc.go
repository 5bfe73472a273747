// Package otel publishes trustcore event counters through an OpenTelemetry
// meter, for deployments that collect metrics with an OTel pipeline rather
// than by scraping Prometheus.
package otel
