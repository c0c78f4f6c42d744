package mapping

// Ladders are the discrete values the site's range selects accept.
var (
	PriceLadder   = []int{1000, 5000, 10000, 15000, 20000, 30000, 45000, 60000, 75000, 100000, 150000}
	MileageLadder = []int{0, 1000, 2000, 3000, 4000, 5000, 10000, 20000, 30000, 50000, 75000, 100000, 125000, 150000, 200000}
	PowerLadder   = []int{40, 60, 80, 100, 150, 200, 300, 400, 500}
)

// SnapMin returns the smallest ladder value >= v. Above the top of the ladder
// it clamps to the last value. ladder must be ascending and non-empty.
func SnapMin(ladder []int, v int) int {
	for _, step := range ladder {
		if step >= v {
			return step
		}
	}
	return ladder[len(ladder)-1]
}

// SnapMax returns the largest ladder value <= v. Below the bottom of the
// ladder it clamps to the first value.
func SnapMax(ladder []int, v int) int {
	for i := len(ladder) - 1; i >= 0; i-- {
		if ladder[i] <= v {
			return ladder[i]
		}
	}
	return ladder[0]
}
