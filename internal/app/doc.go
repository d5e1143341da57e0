// Package app wires cleanloop together and runs a clean.
//
// NewApplication loads config.yaml from the configuration directory,
// initializes logging and builds the Services: one mapper per image and
// Taylor term backed by the synthetic gridder, the in-process transport
// over the configured number of workers, the parallel synchronizer, the
// iteration controller and the run driver.
//
// Run executes the clean in command line mode. It starts the control file
// watcher, the interactive prompt and the metrics endpoint when configured,
// turns the first interrupt into a graceful stop and the second into a
// cancel, and saves the run summary under a fresh run id whatever the
// outcome.
//
// Serve does the same with the MCP control surface on stdio instead of the
// prompt. It keeps serving after the clean finishes so the client can read
// the final details, and stops an unfinished run when the client goes away.
package app
