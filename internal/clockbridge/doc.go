// Package clockbridge republishes simulator time on the clock topic.
//
// Samples are taken on a fixed grid anchored at the loop start, so the
// k-th sample is due at start + k*interval no matter how long each
// query took. A query that overruns one or more grid points skips
// them.
package clockbridge
