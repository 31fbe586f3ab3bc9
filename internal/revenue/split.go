// Package revenue computes the platform-commission split for a charged
// amount. Amounts are integer minor units; the rate is integer basis
// points so the arithmetic is exact.
package revenue

// DefaultRateBps is the platform's standard 20% commission.
const DefaultRateBps = 2000

// Split divides a gross amount into platform commission and creator net.
// Commission is round-half-up on minor units; the net is derived by
// subtraction so commission + net == gross always holds, and any rounding
// remainder lands on the platform side, never the creator's.
func Split(gross int64, rateBps int) (commission, creatorNet int64) {
	if gross <= 0 || rateBps <= 0 {
		return 0, gross
	}
	if rateBps > 10000 {
		rateBps = 10000
	}
	commission = (gross*int64(rateBps) + 5000) / 10000
	return commission, gross - commission
}
