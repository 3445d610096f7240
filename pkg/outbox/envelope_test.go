package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"eventId":"e-1","data":{"hotelId":"h"}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, env.Version, "unversioned envelopes read as v1")
	assert.Equal(t, "e-1", env.EventID)

	env, err = DecodeEnvelope([]byte(`{"version":2,"data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, 2, env.Version)

	for _, raw := range []string{`{"version":1}`, `{"version":1,"data":null}`, `{"data": }`} {
		_, err := DecodeEnvelope([]byte(raw))
		assert.Error(t, err, raw)
	}
	_, err = DecodeEnvelope([]byte(`{"data":null}`))
	assert.ErrorIs(t, err, ErrEmptyData)
}
