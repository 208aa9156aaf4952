// Package domain models the hazard signals, partitions, and alerts handled by
// the hazard alert service.
//
// # Signals
//
// Three kinds of observation feed the service:
//
//   - Community reports submitted over HTTP. Each carries a severity
//     (low, medium, high, critical) and an optional urgent level.
//   - Satellite fire detections consumed from the fire feed topic. Records
//     follow the NASA FIRMS column layout (latitude, longitude, brightness,
//     scan, track, acq_date, acq_time, satellite, confidence). Confidence is
//     kept exactly as delivered: "l", "n", "h" for VIIRS, 0-100 for MODIS.
//   - Point weather snapshots fetched from a weather provider on demand.
//
// # Partitions
//
// Every located entity carries a [PartitionKey] with three geohash tiers:
//
//	Region   3 chars  ~156 km x 156 km
//	Cell     5 chars  ~4.9 km x 4.9 km
//	SubCell  7 chars  ~153 m x 153 m
//
// Each tier is a prefix of the next, so sorting keys groups neighbours and a
// prefix selects everything inside a coarser cell. Crisis state and alerts are
// tracked per Cell. A fire "site" is a SubCell.
//
// # Severity weights
//
// Severities map to weights low=1, medium=2, high=4, critical=8. Fire
// detections weigh by confidence class: high=4, nominal=2, low=1.
//
// # Detection IDs
//
// Fire detection IDs are deterministic SHA-256 hashes of
// site|acq_date|acq_time|satellite so replays of the feed are idempotent.
package domain
