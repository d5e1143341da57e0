// Package api holds the types shared between cleanloop's packages: the
// iteration state machine states, summary records, setup parameters and the
// typed error taxonomy.
//
// Errors are concrete structs with an IsXxx helper each, so callers can
// branch with errors.As semantics through any amount of wrapping:
//
//	if err := ctrl.ChangeLoopGain(0.2); api.IsInvalidState(err) {
//	    // only allowed while paused or at a major cycle boundary
//	}
package api
