package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcingflow/profile"
)

func TestNormEncodingRoundTrip(t *testing.T) {
	in := map[profile.EventType]time.Duration{
		profile.EventPickedUp:  90 * time.Minute,
		profile.EventDelivered: 1500 * time.Millisecond,
	}
	encoded := encodeNorms(in)
	fields := make(map[string]string, len(encoded))
	for k, v := range encoded {
		fields[k] = v.(string)
	}

	out, err := decodeNorms(fields)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeNorms(map[string]string{"PICKED_UP": "soon"})
	assert.Error(t, err)
}

func TestMergeNormsPrefersObservedHistory(t *testing.T) {
	defaults := profile.Logistics().LaneNorms
	merged := mergeNorms(defaults, map[profile.EventType]time.Duration{
		profile.EventInTransit: time.Hour,
		profile.EventPickedUp:  0,
	})

	assert.Equal(t, time.Hour, merged[profile.EventInTransit])
	assert.Equal(t, defaults[profile.EventPickedUp], merged[profile.EventPickedUp])
	assert.Equal(t, 6*time.Hour, defaults[profile.EventInTransit], "defaults must not be mutated")
}

func TestLaneKey(t *testing.T) {
	assert.Equal(t, "sourcingflow:lane:t1:logistics:A>B", LaneKey("t1", "logistics", "A>B"))
}
