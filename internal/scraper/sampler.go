package scraper

import "math/rand/v2"

// SampleIDs picks up to n object IDs from pool uniformly at random,
// without replacement. The pool itself is never mutated.
func SampleIDs(pool []int, n int) []int {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	if n > len(pool) {
		n = len(pool)
	}
	shuffled := append([]int(nil), pool...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}
