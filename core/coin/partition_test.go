package coin

import "testing"

func TestPartitionSizes(t *testing.T) {
	const limit = 50

	cases := []struct {
		n    int
		want []int
	}{
		{n: 49, want: []int{49}},
		{n: 50, want: []int{50}},
		{n: 51, want: []int{50, 1}},
		{n: 100, want: []int{50, 50}},
	}

	for _, tc := range cases {
		got := partitionSizes(tc.n, limit)
		if len(got) != len(tc.want) {
			t.Errorf("partitionSizes(%d, %d) = %v, want %v", tc.n, limit, got, tc.want)
			continue
		}
		total := 0
		for i, size := range got {
			if size != tc.want[i] {
				t.Errorf("partitionSizes(%d, %d)[%d] = %d, want %d", tc.n, limit, i, size, tc.want[i])
			}
			if i < len(got)-1 && size != limit {
				t.Errorf("partitionSizes(%d, %d): batch %d has size %d, only the last may be short", tc.n, limit, i, size)
			}
			total += size
		}
		if total != tc.n {
			t.Errorf("partitionSizes(%d, %d) sizes sum to %d", tc.n, limit, total)
		}
	}
}

func TestPartitionSizesEmpty(t *testing.T) {
	if got := partitionSizes(0, 50); got != nil {
		t.Errorf("partitionSizes(0, 50) = %v, want nil", got)
	}
	if got := partitionSizes(10, 0); got != nil {
		t.Errorf("partitionSizes(10, 0) = %v, want nil", got)
	}
}
