// Package audit delivers security events off the request path.
//
// The engine builds an [Event] per flow outcome and hands it to a
// [Dispatcher], which queues it for a single goroutine that calls the
// configured [Sink]. Sinks here write JSON lines, feed a channel, fan out,
// or report failures to Sentry. Which events exist is decided by the
// engine, not by this package.
package audit
