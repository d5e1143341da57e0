// Package logging provides the structured logging used across cleanloop.
//
// It is a thin wrapper over log/slog that tags every record with a subsystem
// name, so output from the iteration controller, the synchronizer and the
// control backends can be filtered independently.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Iteration", "cycle threshold %.4g", threshold)
//	logging.Debug("Sync", "gathered %d ranks", n)
//	logging.Warn("Control", "control file %s vanished", path)
//	logging.Error("Runner", err, "major cycle %d failed", cycle)
//
// InitForJSON installs a JSON handler instead, for runs whose logs are
// collected by another tool.
//
// # Subsystems
//
//   - Iteration: convergence state and stop decisions
//   - Mappers: mapper collection lifecycle and aggregates
//   - ImageStore: artifact allocation and normalization
//   - Sync: gather/scatter across workers
//   - Control: pause/resume backends
//   - ControlSurface: MCP tools
//   - Runner: the major/minor loop driver
//   - Config, Storage, Metrics
//
// # Audit
//
// Operator actions (pause, resume, stop, parameter changes) go through Audit,
// which writes an INFO record prefixed with [AUDIT].
package logging
