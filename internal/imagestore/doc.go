// Package imagestore holds the per-mapper image artifacts (psf, residual,
// model, weight, restored image) and the weight normalization applied to
// them after every gather.
//
// Normalization is exact: out[i] = in[i]/weight[i] where weight[i] > eps and
// 0 otherwise. Each accumulated image remembers whether it has been divided,
// so a second normalization without an intervening write changes nothing.
package imagestore
