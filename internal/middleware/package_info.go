// Package middleware contains helpers for adding standard behavior like authentication, permission
// checks and metrics to REST endpoints.
package middleware
