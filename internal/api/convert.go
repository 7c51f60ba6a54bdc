// Package api defines the HTTP API surface of the daemon: request and
// response types, their conversions from domain types, and the route
// registrations.
package api

// Convertible is implemented by wrapped domain types that can be converted to
// an API-safe type. ToAPIType is responsible for any normalization required
// to ensure consistency across the API boundary.
type Convertible[T any] interface {
	ToAPIType() (T, error)
}
