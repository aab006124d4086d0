// Package server puts the static responder and the token-gated API behind one
// HTTP listener.
//
// Every request passes through the same middleware chain: request ID, request
// logging, metrics, security headers, CORS and panic recovery. Dispatch is by
// exact path: the client script, the IP endpoint, and static files for
// everything else.
package server
