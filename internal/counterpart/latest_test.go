package counterpart

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func rec(id, owner, cp string, minutes int, payload string) Record[string] {
	return Record[string]{ID: id, OwnerID: owner, CounterpartID: cp, At: base.Add(time.Duration(minutes) * time.Minute), Payload: payload}
}

func TestLatestOneRowPerCounterpartNewestFirst(t *testing.T) {
	records := []Record[string]{
		rec("1", "doc", "A", 1, "t1"),
		rec("2", "doc", "B", 2, "t2"),
		rec("3", "doc", "A", 3, "t3"),
	}

	rows := Latest(records, "doc")

	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].CounterpartID)
	assert.Equal(t, "t3", rows[0].Payload)
	assert.Equal(t, "3", rows[0].RecordID)
	assert.Equal(t, "B", rows[1].CounterpartID)
	assert.Equal(t, "t2", rows[1].Payload)
}

func TestLatestFiltersByViewer(t *testing.T) {
	records := []Record[string]{
		rec("1", "doc-1", "A", 1, "mine"),
		rec("2", "doc-2", "A", 5, "theirs"),
		rec("3", "doc-2", "C", 6, "theirs"),
	}

	rows := Latest(records, "doc-1")

	require.Len(t, rows, 1)
	assert.Equal(t, "mine", rows[0].Payload)

	all := Latest(records, "")
	require.Len(t, all, 2)
	assert.Equal(t, "C", all[0].CounterpartID)
}

func TestLatestTieBreaksDeterministically(t *testing.T) {
	records := []Record[string]{
		rec("a", "doc", "A", 1, "first"),
		rec("b", "doc", "A", 1, "second"),
		rec("x", "doc", "Z", 1, "z"),
	}
	for i := 0; i < 10; i++ {
		shuffled := append([]Record[string](nil), records...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		rows := Latest(shuffled, "doc")
		require.Len(t, rows, 2)
		assert.Equal(t, "A", rows[0].CounterpartID)
		assert.Equal(t, "second", rows[0].Payload)
		assert.Equal(t, "Z", rows[1].CounterpartID)
	}
}

func TestLatestSkipsRecordsWithoutCounterpart(t *testing.T) {
	rows := Latest([]Record[string]{rec("1", "doc", "", 1, "orphan")}, "doc")
	assert.Empty(t, rows)
	assert.Empty(t, Latest[string](nil, "doc"))
}

func TestLatestInvariantsOnRandomHistory(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	var records []Record[string]
	want := map[string]time.Time{}
	for i := 0; i < 200; i++ {
		cp := fmt.Sprintf("p%d", r.Intn(15))
		at := r.Intn(10000)
		records = append(records, rec(fmt.Sprintf("r%03d", i), "doc", cp, at, cp))
		ts := base.Add(time.Duration(at) * time.Minute)
		if cur, ok := want[cp]; !ok || ts.After(cur) {
			want[cp] = ts
		}
	}

	rows := Latest(records, "doc")

	require.Len(t, rows, len(want))
	seen := map[string]bool{}
	for i, row := range rows {
		assert.False(t, seen[row.CounterpartID], "duplicate counterpart %s", row.CounterpartID)
		seen[row.CounterpartID] = true
		assert.True(t, want[row.CounterpartID].Equal(row.LatestAt))
		if i > 0 {
			assert.False(t, row.LatestAt.After(rows[i-1].LatestAt), "rows not sorted descending")
		}
	}
}
