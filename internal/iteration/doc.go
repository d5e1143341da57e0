// Package iteration implements the convergence controller of a clean run.
//
// The Controller owns the iteration state machine
//
//	Uninitialized -> Configured -> MinorCycleRunning -> MajorCycleBoundary -> Converged|Stopped
//	                                                    MajorCycleBoundary <-> MinorCyclePaused
//
// and decides when a minor cycle ends (CheckMinorStop), what threshold the
// next one targets (CalculateCycleThreshold) and when the whole run is done
// (CheckConvergence). Operator interaction goes through a Token, which a
// control backend (control file, prompt or MCP tool) uses to pause,
// continue with changed parameters, or abort the run. A paused run waits
// for the operator without a timeout.
package iteration
