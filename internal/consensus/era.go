package consensus

// EraAtHeight returns the era a block at height belongs to. Genesis forms
// era 0 together with the first blocksPerEra blocks.
func EraAtHeight(height, blocksPerEra int64) int64 {
	if height <= 0 {
		return 0
	}
	return (height - 1) / blocksPerEra
}

// IsEraBoundary reports whether a block at height closes an era.
func IsEraBoundary(height, blocksPerEra int64) bool {
	return height%blocksPerEra == 0
}

// eraBoundaryHeight is the height of the last boundary at or below height.
func eraBoundaryHeight(height, blocksPerEra int64) int64 {
	return height / blocksPerEra * blocksPerEra
}
