package natsbackend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	data, err := Encode(3.5)
	require.NoError(t, err)
	var f float64
	require.NoError(t, Decode(data, &f))
	assert.Equal(t, 3.5, f)

	type exposure struct {
		Livetime float64 `json:"livetime"`
		Gain     int     `json:"gain"`
	}
	data, err = Encode(exposure{Livetime: 0.1, Gain: 4})
	require.NoError(t, err)
	var e exposure
	require.NoError(t, Decode(data, &e))
	assert.Equal(t, exposure{Livetime: 0.1, Gain: 4}, e)
}

func TestDecodeRejectsWrongType(t *testing.T) {
	data, err := Encode("not a number")
	require.NoError(t, err)
	var f float64
	assert.Error(t, Decode(data, &f))
}

func TestSourceNamesBucketAndKey(t *testing.T) {
	b := New[float64](nil, "motor.setpoint")
	assert.Equal(t, "nats+kv:///motor.setpoint", b.Source())
}

func TestDataKeyShape(t *testing.T) {
	b := New[float64](nil, "motor.velocity", WithUnit("mm/s"), WithPrecision(3))
	key := b.DataKey("motor-velocity")
	assert.Equal(t, "number", key.Dtype)
	assert.Equal(t, "mm/s", key.Unit)
	assert.Equal(t, 3, key.Precision)
}
