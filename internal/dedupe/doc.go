// Package dedupe provides a bounded seen-set used to skip duplicate
// payloads during batch ingestion.
package dedupe
