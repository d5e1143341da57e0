// Package parallel synchronizes the global images of a clean run with the
// workers that grid partitions of the data.
//
// A Transport offers two collectives, a pixel-wise sum reduction and a
// broadcast, each bounded by a timeout. LocalTransport implements them over
// in-process workers. The Synchronizer drives them per major cycle:
// GatherImages, then DividePSFByWeight or DivideResidualByWeight, then
// ScatterModel. A failed gather never leaves a partially merged global
// image behind.
package parallel
