package coin

// partitionSizes splits n transfers into batch sizes bounded by the
// per-transaction limit. Batch order follows request order and the
// sizes always sum to n.
func partitionSizes(n, limit int) []int {
	if n <= 0 || limit <= 0 {
		return nil
	}
	sizes := make([]int, 0, (n+limit-1)/limit)
	for remaining := n; remaining > 0; remaining -= limit {
		if remaining > limit {
			sizes = append(sizes, limit)
		} else {
			sizes = append(sizes, remaining)
		}
	}
	return sizes
}
