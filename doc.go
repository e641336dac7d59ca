// Package wellstream is a real-time processing pipeline for artificial
// lift sensor telemetry: readings stream in from a broker, are folded
// into per-sensor sliding windows, enriched into feature vectors with
// inline anomaly flags, and written to time-series storage in batches.
//
// # Architecture
//
// Readings flow through four stages, each its own package:
//
//	┌──────────────┐   ┌──────────────┐   ┌──────────────┐   ┌──────────────┐
//	│    source    │ → │    stats     │ → │   feature    │ → │    writer    │
//	│ Kafka / NATS │   │ window + z   │   │  engineering │   │ batch flush  │
//	└──────────────┘   └──────────────┘   └──────────────┘   └──────────────┘
//
// The pipeline package orchestrates the stages: it owns the lifecycle
// state machine (stopped → running ⇄ paused → stopped), routes readings
// to workers by (well, sensor type) key so per-sensor order is
// preserved, and acknowledges a source message only after its feature
// vector has reached the write buffer.
//
// # Delivery semantics
//
// Delivery is at-least-once end to end. Duplicates are absorbed by the
// storage layer's (well, sensor type, timestamp) series key. The one
// deliberate loss point is retry exhaustion on a bulk insert: the batch
// is dropped, counted, and logged rather than wedging intake forever.
//
// # Packages
//
//   - reading: wire format and validation of a sensor reading
//   - window: bounded chronological windows with O(1) aggregates
//   - stats: per-reading derived metrics and the z-score anomaly flag
//   - feature: time, statistical, and trend feature engineering
//   - writer: batch accumulation, timed flushes, bounded retries
//   - storage: InfluxDB bulk write boundary
//   - source: Kafka and JetStream intake adapters
//   - pipeline: orchestration, stats, and health
//   - metric, health, config, errors: ambient concerns
//   - pkg/buffer, pkg/retry, pkg/worker: reusable primitives
package wellstream
