/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

// Package ratehttp connects sliding-window rate limiters to net/http:
// a client-side round tripper that checks outgoing requests before dispatching
// them, and a server-side middleware that rejects over-limit requests with 429.
package ratehttp
