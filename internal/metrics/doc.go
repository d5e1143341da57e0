// Package metrics publishes run progress as prometheus metrics.
package metrics
