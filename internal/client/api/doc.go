// Package api is the single choke point for calls to the portal's REST API.
//
// Client is the thin HTTP gateway: bearer token from the token store, a
// bounded per-request timeout, JSON or multipart bodies, and error mapping.
// A 401 clears the stored token and publishes events.TopicAuthLogout so the
// auth service can drop the session without the transport knowing about it.
// No retries happen here.
//
// Remote sits on top of Client and gives every endpoint an explicit DTO. DTOs
// are validated on decode (a response of unexpected shape fails with
// ErrInvalidResponse) and converted to and from the camelCase models at this
// boundary.
//
// Errors: transport failures match ErrUnavailable or ErrTimeout with
// errors.Is; non-2xx answers are *Error values carrying status and payload.
package api
