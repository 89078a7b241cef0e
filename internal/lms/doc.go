// Package lms is the client for the learning platform REST API.
//
// Requests go through a resty client on a retrying transport, a token
// bucket limiter and a circuit breaker. Bearer tokens are per call: the
// host forwards whatever token the player presented and never stores it.
package lms
