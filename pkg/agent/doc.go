// Package agent builds the model client used by the gateway: a raw provider
// client wrapped in the metrics, rate limit, and timeout middleware chain.
package agent
