// SPDX-License-Identifier: ice License 1.0

package time

import (
	"context"
	"testing"
	stdlibtime "time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTime(t *testing.T) {
	t.Parallel()
	type tmpStruct struct {
		ConnectedAt *Time `json:"connectedAt"`
	}
	time1, err := stdlibtime.Parse(stdlibtime.RFC3339Nano, "2006-01-02T15:04:05.999999999Z")
	require.NoError(t, err)
	t1 := tmpStruct{ConnectedAt: New(time1)}
	text, err := t1.ConnectedAt.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2006-01-02T15:04:05.999999999Z", string(text))
	bytes, err := json.MarshalContext(context.Background(), t1)
	require.NoError(t, err)
	assert.Equal(t, `{"connectedAt":"2006-01-02T15:04:05.999999999Z"}`, string(bytes))
	var t3 tmpStruct
	require.NoError(t, json.UnmarshalContext(context.Background(), bytes, &t3))
	assert.Equal(t, t1, t3)
	bytes, err = json.MarshalContext(context.Background(), &tmpStruct{ConnectedAt: New(stdlibtime.Unix(0, 0).UTC())})
	require.NoError(t, err)
	assert.Equal(t, `{"connectedAt":null}`, string(bytes))
	var t21 tmpStruct
	require.NoError(t, json.UnmarshalContext(context.Background(), []byte(`{"connectedAt":1655303440552373000}`), &t21))
	assert.Equal(t, tmpStruct{ConnectedAt: New(stdlibtime.Unix(0, 1655303440552373000).UTC())}, t21)
	var t22 tmpStruct
	require.NoError(t, json.UnmarshalContext(context.Background(), []byte(`{"connectedAt":1655303440552}`), &t22))
	assert.Equal(t, tmpStruct{ConnectedAt: New(stdlibtime.Unix(0, 1655303440552000000).UTC())}, t22)
	var t4 tmpStruct
	require.Error(t, json.UnmarshalContext(context.Background(), []byte(`{"connectedAt":"yesterday"}`), &t4))
}

func TestDeadline(t *testing.T) {
	t.Parallel()
	assert.True(t, Deadline(0).IsZero())
	assert.True(t, Deadline(-stdlibtime.Second).IsZero())
	deadline := Deadline(stdlibtime.Minute)
	assert.WithinDuration(t, stdlibtime.Now().Add(stdlibtime.Minute), deadline, 5*stdlibtime.Second)
}
