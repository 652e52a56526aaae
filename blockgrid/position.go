package blockgrid

import "math"

// cellSize is the divisor the floor-by-500 rule uses to convert a world
// position into a cell index.
const cellSize = 500

// CellIndexForPosition converts a world-space position into the grid index
// whose cube it falls in, using true mathematical floor division so that
// negative coordinates land in the cell below zero rather than truncating
// toward it.
func CellIndexForPosition(x, y, z float64) Index {
	return Index{floorDiv(x), floorDiv(y), floorDiv(z)}
}

func floorDiv(v float64) int64 {
	return int64(math.Floor(v / cellSize))
}
