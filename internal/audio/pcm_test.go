package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePCM16LE(t *testing.T) {
	in := []byte{
		0x00, 0x00, // 0
		0xff, 0x7f, // 32767
		0x00, 0x80, // -32768
		0x00, 0x40, // 16384
		0xff, 0xff, // -1
	}
	got, err := DecodePCM16LE(in)
	require.NoError(t, err)
	require.Len(t, got, 5)

	assert.Equal(t, float32(0), got[0])
	assert.InDelta(t, 32767.0/32768.0, got[1], 1e-7)
	assert.Equal(t, float32(-1), got[2])
	assert.Equal(t, float32(0.5), got[3])
	assert.InDelta(t, -1.0/32768.0, got[4], 1e-9)
}

func TestDecodePCM16LERejectsOddLength(t *testing.T) {
	_, err := DecodePCM16LE([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ErrOddLength)
}

func TestDecodePCM16LEEmpty(t *testing.T) {
	got, err := DecodePCM16LE(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEncodePCM16LERoundTripAndClamp(t *testing.T) {
	in := []float32{0, 0.5, -0.5, -1}
	got, err := DecodePCM16LE(EncodePCM16LE(in))
	require.NoError(t, err)
	assert.Equal(t, in, got)

	clamped := EncodePCM16LE([]float32{2, -2})
	assert.Equal(t, []byte{0xff, 0x7f, 0x00, 0x80}, clamped)
}

func TestResampleLinear(t *testing.T) {
	in := []float32{0, 1, 0, -1}

	same := ResampleLinear(in, 16000, 16000)
	assert.Equal(t, in, same)
	same[0] = 9
	assert.Equal(t, float32(0), in[0], "same-rate resample must copy")

	up := ResampleLinear(in, 8000, 16000)
	require.Len(t, up, 8)
	assert.Equal(t, float32(0.5), up[1])

	down := ResampleLinear([]float32{0, 1, 2, 3, 4, 5, 6, 7}, 16000, 8000)
	assert.Equal(t, []float32{0, 2, 4, 6}, down)
}
