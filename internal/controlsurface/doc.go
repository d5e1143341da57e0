// Package controlsurface exposes a running clean to MCP clients. The tools
// read controller details and the summary log, and steer the run through
// the same continuation token the control file and prompt use.
package controlsurface
