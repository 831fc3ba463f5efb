package stm

import "math"

// StmParameters are the public protocol parameters that every signer
// and the clerk must agree on for a given epoch: the per-message
// lottery count m, the quorum k, and the stake-proportion parameter
// phi_f used to derive each party's per-lottery winning probability.
type StmParameters struct {
	M    uint64
	K    uint64
	PhiF float64
}

// phi computes the probability that a single index is won by a party
// holding the given fraction of total stake: phi(f, stake_fraction) =
// 1 - (1 - f)^stake_fraction.
func (p StmParameters) phi(stakeFraction float64) float64 {
	if stakeFraction <= 0 {
		return 0
	}
	if stakeFraction >= 1 {
		return 1
	}
	return 1 - math.Pow(1-p.PhiF, stakeFraction)
}
