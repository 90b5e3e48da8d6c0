package klhdv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelInfoRoundTrip(t *testing.T) {
	payload := ChannelInfoPayload{
		ProviderName: "TEST",
		Channels: []ChannelInfo{
			{ID: 1, Vendor: 0, Name: "RPM", Unit: 1},
			{ID: 2, Vendor: 0, Name: "AFR", Unit: 2},
		},
	}
	encoded := EncodeChannelInfo(payload)
	decoded, err := DecodeChannelInfo(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload.ProviderName, decoded.ProviderName)
	assert.Equal(t, payload.Channels, decoded.Channels)
}

func TestChannelValuesRoundTrip(t *testing.T) {
	samples := []RawSample{
		{ChannelID: 1, TimestampMs: 100, Value: 3000},
		{ChannelID: 2, TimestampMs: 100, Value: 13.1},
		{ChannelID: 3, TimestampMs: 100, Value: 40},
	}
	encoded := EncodeChannelValues(samples)
	decoded, err := DecodeChannelValues(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, len(samples))
	for i := range samples {
		assert.Equal(t, samples[i], decoded[i])
	}
}

func TestDecodeFrameShort(t *testing.T) {
	_, err := DecodeFrame([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestFrameRoundTrip(t *testing.T) {
	value := []byte("hello")
	buf := EncodeFrame(KeyPing, 0x1234, 42, DestBroadcast, value)
	frame, err := DecodeFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, KeyPing, frame.Header.Key)
	assert.Equal(t, uint16(0x1234), frame.Header.Host)
	assert.Equal(t, uint8(42), frame.Header.Seq)
	assert.Equal(t, DestBroadcast, frame.Header.Dest)
	assert.Equal(t, value, frame.Value)
}

func TestResolveChannelNameOrder(t *testing.T) {
	p := &ProviderInfo{Channels: map[uint16]ChannelInfo{1: {ID: 1, Name: "Engine RPM"}}}
	assert.Equal(t, "Engine RPM", ResolveChannelName(p, 1))
	assert.Equal(t, "Torque", ResolveChannelName(p, 3))
	assert.Equal(t, "chan_999", ResolveChannelName(p, 999))
	assert.Equal(t, "chan_999", ResolveChannelName(nil, 999))
}
