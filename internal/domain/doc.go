// Package domain models river water-level telemetry mirrored from the
// upstream government monitoring API.
//
// # Data Source
//
// The upstream exposes a per-district summary, a per-district station detail
// listing, and a per-district camera listing. Payload field names are not
// stable across endpoints or releases: the same attribute may arrive as
// "stationName" or "name", "wlth_normal" or "normalLevel", "imageUrl",
// "imgUrl" or "streamUrl". Numbers are sometimes quoted strings and nulls are
// common. Every raw DTO in this package therefore decodes into [Flex] fields
// and a dedicated normalization function resolves aliases field by field.
//
// # Upstream Conventions
//
// Time format:
//
//	"DD/MM/YYYY HH:mm:ss" in Malaysian civil time (fixed UTC+8, no DST),
//	e.g. "21/08/2025 21:15:00" == 2025-08-21T13:15:00Z.
//	Unparseable values fall back to the current instant.
//
// Water level sentinel:
//
//	-9999 (or null) means "no reading". It is normalized to 0 and never
//	reaches alert classification.
//
// Station status:
//
//	"stationStatus" carries the online flag. Values 1, "1", true, "on",
//	"online" and "active" (case-insensitive) mean online.
//
// Alert status:
//
//	"waterlevelStatus" is the upstream's own classification. Values 0..3 are
//	trusted as-is; -1 (below normal) or anything else triggers local
//	classification against the station thresholds.
//
// # Alert Levels
//
// Four ordinal levels derived from the current level and station thresholds:
//
//	0 NORMAL | 1 ALERT (>= alert) | 2 WARNING (>= warning) | 3 DANGER (>= danger)
//
// A threshold of zero or less is treated as unconfigured and skipped.
//
// # Identity
//
// The upstream station id and camera id are the only idempotency keys.
// Internal ids are random UUIDs assigned on first insert; history points and
// summary snapshots get deterministic name-based UUIDs so replays collapse.
package domain
