// Package proxy relays admitted traffic to the configured upstreams.
//
// Forwarder is a streaming reverse proxy: one instance per upstream,
// parameterized by host, port, path mapping, and default headers. Bodies
// are streamed in both directions without buffering so long-lived and
// chunked responses (model streaming, feeds) pass through unmodified.
//
// Screenshotter is the headless-browser variant. Instead of relaying
// bytes it speaks the Chrome DevTools Protocol over a WebSocket to a
// browserless endpoint, drives a page to the requested URL, and returns
// the captured image. It never owns the remote browser process: every
// capture creates its own page target, disposes it, and disconnects.
//
// # Architecture boundaries
//
// This package does not authenticate anything. Admission and slot
// accounting happen in middleware before a request reaches a Forwarder.
//
// # What this package must NOT do
//
//   - Parse or rewrite request/response bodies.
//   - Retry upstream calls. The caller sees the first failure.
//   - Close the remote browser. Only the page target is disposed.
package proxy
