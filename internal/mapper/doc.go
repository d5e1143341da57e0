// Package mapper owns the ordered collection of mappers (one per imaging
// field or Taylor term) and the aggregate queries the iteration controller
// stops on: global peak residual, integrated flux, worst psf sidelobe and
// whether any model changed.
//
// Each mapper follows a strict lifecycle per major cycle:
//
//	InitializeGrid -> Grid (one or more) -> FinalizeGrid
//	InitializeDegrid -> Degrid (one or more) -> FinalizeDegrid
//
// Calls out of order fail with an InvalidLifecycleState error and leave
// the mapper unchanged.
package mapper
