// Package summary persists the summary log of finished clean runs. Each run
// is stored as one YAML document keyed by a random run id, through the
// config package's file storage.
package summary
