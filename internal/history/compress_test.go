package history

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompress_Example(t *testing.T) {
	got := Compress([]int64{100, 102, 200}, 5)
	assert.Equal(t, []Interval{{100, 102}, {200, 200}}, got)
	assert.Equal(t, int64(3), Dwell(got, 1))
}

func TestCompress_Cases(t *testing.T) {
	tests := []struct {
		name string
		in   []int64
		tol  int64
		want []Interval
	}{
		{"empty", nil, 5, []Interval{}},
		{"single", []int64{7}, 5, []Interval{{7, 7}}},
		{"repeats collapse", []int64{7, 7, 7}, 5, []Interval{{7, 7}}},
		{"unsorted input", []int64{30, 10, 12, 28}, 5, []Interval{{10, 12}, {28, 30}}},
		{"gap equal to tolerance merges", []int64{0, 5, 10}, 5, []Interval{{0, 10}}},
		{"gap above tolerance splits", []int64{0, 6}, 5, []Interval{{0, 0}, {6, 6}}},
		{"zero tolerance keeps distinct points", []int64{1, 1, 2}, 0, []Interval{{1, 1}, {2, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compress(tt.in, tt.tol))
		})
	}
}

func TestCompress_SortedAndDisjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		ts := make([]int64, rng.Intn(40))
		for i := range ts {
			ts[i] = rng.Int63n(500)
		}
		const tol = 7
		got := Compress(ts, tol)
		for i := range got {
			assert.LessOrEqual(t, got[i].Start, got[i].End)
			if i > 0 {
				assert.Greater(t, got[i].Start-got[i-1].End, int64(tol), "spans %v and %v should have merged", got[i-1], got[i])
			}
		}
	}
}

func TestCompress_IdempotentThroughExpand(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		ts := make([]int64, rng.Intn(60))
		for i := range ts {
			ts[i] = rng.Int63n(1000)
		}
		const tol = 20
		once := Compress(ts, tol)
		twice := Compress(Expand(once, tol), tol)
		assert.Equal(t, once, twice)
	}
}

func TestCoalesce_OrderIndependent(t *testing.T) {
	a := []Interval{{0, 10}, {40, 40}}
	b := []Interval{{12, 20}, {100, 120}}
	c := []Interval{{35, 38}, {118, 130}}

	ab := Coalesce(append(append([]Interval{}, a...), b...), 5)
	left := Coalesce(append(ab, c...), 5)

	bc := Coalesce(append(append([]Interval{}, b...), c...), 5)
	right := Coalesce(append(bc, a...), 5)

	assert.Equal(t, left, right)
	assert.Equal(t, []Interval{{0, 20}, {35, 40}, {100, 130}}, left)
}

func TestBoundaries(t *testing.T) {
	got := Boundaries([]Interval{{1, 2}, {50, 50}})
	assert.Equal(t, []int64{1, 2, 50}, got)
}

func TestDwell(t *testing.T) {
	assert.Equal(t, int64(0), Dwell(nil, 10))
	assert.Equal(t, int64(10), Dwell([]Interval{{5, 5}}, 10))
	assert.Equal(t, int64(40), Dwell([]Interval{{0, 30}, {100, 100}}, 10))
}

func TestInterval_JSON(t *testing.T) {
	data, err := json.Marshal([]Interval{{1, 2}, {50, 50}})
	require.NoError(t, err)
	assert.JSONEq(t, `[[1,2],[50]]`, string(data))

	var back []Interval
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []Interval{{1, 2}, {50, 50}}, back)
}

func TestInterval_UnmarshalRejectsMalformed(t *testing.T) {
	for _, in := range []string{`[]`, `[1,2,3]`, `[5,1]`, `"x"`} {
		var iv Interval
		assert.Error(t, json.Unmarshal([]byte(in), &iv), in)
	}
}

func TestCompress_FarApartTimestamps(t *testing.T) {
	got := Compress([]int64{-10, math.MaxInt64}, 20)
	assert.Equal(t, []Interval{{-10, -10}, {math.MaxInt64, math.MaxInt64}}, got)
	assert.Equal(t, int64(2), Dwell(got, 1))
}

func TestDwell_Saturates(t *testing.T) {
	spans := []Interval{{0, math.MaxInt64}, {0, math.MaxInt64}}
	assert.Equal(t, int64(math.MaxInt64), Dwell(spans, 1))

	spans = []Interval{{math.MinInt64, math.MaxInt64}}
	assert.Equal(t, int64(math.MaxInt64), Dwell(spans, 1))
}
