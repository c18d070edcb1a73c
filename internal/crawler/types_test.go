package crawler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitJSON(t *testing.T) {
	data, err := json.Marshal(Limit(1000))
	require.NoError(t, err)
	assert.Equal(t, `"1000"`, string(data))

	var fromString, fromNumber Limit
	require.NoError(t, json.Unmarshal([]byte(`"65536"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`128`), &fromNumber))
	assert.Equal(t, Limit(65536), fromString)
	assert.Equal(t, Limit(128), fromNumber)

	var bad Limit
	require.Error(t, json.Unmarshal([]byte(`"abc"`), &bad))
}

func TestRecordUnmarshalDefaultsExists(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"title":"1000：入门测试题目","time_limit":"1000","memory_limit":"65536"}`), &rec))
	assert.True(t, rec.Exists, "missing exists key means the problem exists")
	assert.Equal(t, Limit(65536), rec.MemoryLimitKb)

	require.NoError(t, json.Unmarshal([]byte(`{"title":"x","exists":false}`), &rec))
	assert.False(t, rec.Exists)
}

func TestPlaceholderRecords(t *testing.T) {
	absent := NewAbsentRecord(9999)
	assert.Equal(t, "9999：未知题目", absent.Title)
	assert.False(t, absent.Exists)
	assert.Equal(t, Limit(DefaultTimeLimitMs), absent.TimeLimitMs)
	assert.Equal(t, Limit(DefaultMemoryLimitKb), absent.MemoryLimitKb)

	failed := NewFailedRecord(42)
	assert.Equal(t, "42：题目不存在", failed.Title)
	assert.False(t, failed.Exists)
}

func TestRecordsMerge(t *testing.T) {
	prev := Records{
		1: {ID: 1, Title: "1 old", Exists: true},
		2: {ID: 2, Title: "2 old", Exists: true},
		3: NewAbsentRecord(3),
		5: NewAbsentRecord(5),
	}
	next := Records{
		1: NewFailedRecord(1),
		2: {ID: 2, Title: "2 new", Exists: true},
		3: {ID: 3, Title: "3 found", Exists: true},
		4: NewAbsentRecord(4),
		5: NewFailedRecord(5),
	}

	merged := prev.Merge(next)
	require.Len(t, merged, 5)
	assert.Equal(t, "1 old", merged[1].Title, "a failure must not replace a stored success")
	assert.Equal(t, "2 new", merged[2].Title)
	assert.Equal(t, "3 found", merged[3].Title)
	assert.False(t, merged[4].Exists)
	assert.Equal(t, "5：未知题目", merged[5].Title, "a failure must not replace a stored absent record")
	assert.Equal(t, []int{1, 2, 3, 4, 5}, merged.IDs())

	assert.Equal(t, "1 old", prev[1].Title, "merge must not mutate the receiver")
	_, leaked := prev[4]
	assert.False(t, leaked)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", OutcomeOK.String())
	assert.Equal(t, "absent", OutcomeAbsent.String())
	assert.Equal(t, "degraded", OutcomeDegraded.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}
