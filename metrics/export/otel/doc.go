// Package otel publishes authcore engine metrics through an OpenTelemetry
// Meter supplied by the caller. Counters become Int64ObservableCounters;
// the latency histogram becomes one gauge per cumulative bucket plus a
// count gauge.
package otel
