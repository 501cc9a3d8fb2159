// Package api exposes the scheduler over HTTP. Handlers translate requests
// into scheduler actions and map errors to status codes in one place;
// they never make scheduling decisions themselves.
package api
