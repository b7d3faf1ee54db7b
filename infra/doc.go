// Package infra contains adapters for the simulation core: the local and
// MQTT transports, metric sinks, the dashboard telemetry collector and
// tracing setup. These packages depend only on interfaces defined in core.
package infra
