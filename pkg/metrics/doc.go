// Package metrics exposes billing counters in Prometheus format.
package metrics
