package simulate

import "math"

// HealthScore derives an account health score from observed bounce and spam
// rates: 100 base, minus 20 points for every 1% bounce and 30 points for every
// 1% spam, clamped to 0..100.
func HealthScore(bounceRate, spamRate float64) int {
	score := 100 - int(math.Round(bounceRate*2000)) - int(math.Round(spamRate*3000))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
