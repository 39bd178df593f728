// Package security keeps secrets out of logs and throttles callers of the
// HTTP gateway.
package security
