package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.ParseInLocation(time.DateOnly, s, Moscow)
	if err != nil {
		panic(err)
	}
	return t
}

// TestWindowInclusive covers both edges of the window.
func TestWindowInclusive(t *testing.T) {
	t.Parallel()

	w, err := NewWindow(day("2024-02-01"), day("2024-02-29"))
	require.NoError(t, err)

	assert.True(t, w.Contains(day("2024-02-01")))
	assert.True(t, w.Contains(day("2024-02-29").Add(23*time.Hour+59*time.Minute)))
	assert.True(t, w.IsBefore(day("2024-02-01").Add(-time.Second)))
	assert.True(t, w.IsAfter(day("2024-03-01")))
	assert.Equal(t, "from_2024-02-01_to_2024-02-29", w.String())

	_, err = NewWindow(day("2024-03-01"), day("2024-02-01"))
	require.Error(t, err)
}

// TestFiltersExpand substitutes each element of the list field.
func TestFiltersExpand(t *testing.T) {
	t.Parallel()

	got, err := Filters{"member_status": 1, "region_number": []int{77, 78}}.Expand()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Filters{"member_status": 1, "region_number": 77}, got[0])
	assert.Equal(t, Filters{"member_status": 1, "region_number": 78}, got[1])

	got, err = Filters{"member_status": 1}.Expand()
	require.NoError(t, err)
	assert.Equal(t, []Filters{{"member_status": 1}}, got)

	got, err = Filters{"inn": []string{}}.Expand()
	require.NoError(t, err)
	assert.Equal(t, []Filters{{}}, got)

	_, err = Filters{"inn": []string{"1"}, "ogrnip": []string{"2"}}.Expand()
	require.ErrorIs(t, err, ErrMultipleListFilters)
}

// TestIDSetSorted returns ascending unique IDs.
func TestIDSetSorted(t *testing.T) {
	t.Parallel()

	s := NewIDSet(5, 1, 3)
	s.Union(NewIDSet(3, 2))
	assert.Equal(t, []int64{1, 2, 3, 5}, s.Sorted())
	assert.True(t, s.Has(2))
}

// TestParseID accepts float renderings of integers.
func TestParseID(t *testing.T) {
	t.Parallel()

	id, err := ParseID(" 12 ")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	id, err = ParseID("12.0")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	_, err = ParseID("12.5")
	require.Error(t, err)
}
