// Package infra holds the adapters around the engine: the MQTT entity
// layer, the price fetcher, metric sinks, logging and error tracking. They
// depend on interfaces from the core packages, never the other way round.
package infra
