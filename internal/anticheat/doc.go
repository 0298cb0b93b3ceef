// Package anticheat screens submitted reaction times for plausibility.
//
// Four independent checks (absolute bounds, session integrity, device
// capabilities, statistical history) each produce a confidence score,
// a flag set, and a requested action. A weakest-link combiner reduces
// them: the lowest confidence wins, flags are unioned, and a single
// reject overrides any number of passes. Every run is appended to a
// capped per-user audit log and folded into hourly aggregates.
package anticheat
