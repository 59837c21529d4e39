// Package httputil provides the JSON response helpers of the HTTP handlers.
package httputil
