// Package httputil provides shared HTTP response/request helpers for handlers.
//
// Handlers render through these helpers so every endpoint shares one error
// envelope, {error, details}, and one mapping from apperr kinds to statuses.
package httputil
