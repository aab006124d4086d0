// Package api hosts the token-gated handlers of the IP display service.
//
// IssueScript hands out a fresh single-use token embedded in the client
// script; ConsumeIP redeems it once and returns the caller's address wrapped
// one character per element so the page can animate it. Token state lives in
// the token.Store injected at construction time, and the caller's IP is
// resolved by internal/server before these handlers run.
package api
