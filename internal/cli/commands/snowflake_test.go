package commands

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/relay/internal/snowflake"
)

func TestSnowflakeDecode(t *testing.T) {
	res := run(t, "snowflake", "decode", "175928847299117063")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "time:      2016-04-30T11:18:25.796Z")
	assert.Contains(t, res.stdout, "timestamp: 1462015105796")
	assert.Contains(t, res.stdout, "worker:    1")
	assert.Contains(t, res.stdout, "increment: 7")

	res = run(t, "snowflake", "decode", "175928847299117063", "0", "--json")
	require.NoError(t, res.err)
	var views []struct {
		ID        string `json:"id"`
		Timestamp int64  `json:"timestamp"`
		Worker    uint64 `json:"worker"`
		Process   uint64 `json:"process"`
		Increment uint64 `json:"increment"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &views))
	require.Len(t, views, 2)
	assert.Equal(t, int64(1462015105796), views[0].Timestamp)
	assert.Equal(t, uint64(7), views[0].Increment)
	assert.Equal(t, snowflake.Epoch, views[1].Timestamp)

	res = run(t, "snowflake", "decode", "not-a-number")
	assert.ErrorIs(t, res.err, snowflake.ErrInvalidID)
}

func TestSnowflakeEncode(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"fields", []string{"--timestamp", "1462015105796", "--worker", "1", "--increment", "7"}, "175928847299117063"},
		{"rfc3339 time", []string{"--time", "2016-04-30T11:18:25.796Z", "--worker", "1", "--increment", "7"}, "175928847299117063"},
		{"truncates wide increment", []string{"--timestamp", "1462015105796", "--worker", "1", "--increment", "4103"}, "175928847299117063"},
		{"epoch", nil, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, append([]string{"snowflake", "encode"}, tt.args...)...)
			require.NoError(t, res.err)
			assert.Equal(t, tt.want, strings.TrimSpace(res.stdout))
		})
	}
}

func TestSnowflakeEncodeStrict(t *testing.T) {
	res := run(t, "snowflake", "encode", "--increment", "4103", "--strict")
	assert.ErrorIs(t, res.err, snowflake.ErrFieldRange)

	res = run(t, "snowflake", "encode", "--time", "yesterday")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "--time")
}

func TestSnowflakeNew(t *testing.T) {
	res := run(t, "snowflake", "new", "--worker", "3", "--process", "2", "-n", "5")
	require.NoError(t, res.err)

	ids := strings.Fields(res.stdout)
	require.Len(t, ids, 5)
	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true

		d, err := snowflake.Decode(id)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), d.Worker)
		assert.Equal(t, uint64(2), d.Process)
	}

	res = run(t, "snowflake", "new", "--worker", "32")
	assert.ErrorIs(t, res.err, snowflake.ErrFieldRange)
}
