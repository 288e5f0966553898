package statetable

import "math/rand/v2"

// pseudoIndex returns a uniform random index in [0, bound).
func pseudoIndex(bound int) int {
	if bound <= 0 {
		return 0
	}
	return int(rand.Uint64() % uint64(bound))
}
