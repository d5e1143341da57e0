// Package runner drives a complete clean over a mapper collection: it makes
// the psf, then alternates major cycles (scatter model, predict, grid
// residual, gather) with minor cycles run by an external Deconvolver, under
// the control of an iteration.Controller, until the controller reports the
// run converged or stopped.
package runner
