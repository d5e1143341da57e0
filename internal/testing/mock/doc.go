// Package mock provides test doubles for cleanloop's external collaborators:
// a gridding engine that records its lifecycle calls, in-memory workers for
// the parallel synchronizer, a scripted minor-cycle kernel, and a
// controllable clock.
//
// None of these do any real imaging. They exist so the controller, the
// mapper collection and the synchronizer can be driven through exact,
// reproducible scenarios.
package mock
