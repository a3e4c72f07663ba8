package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"4096", 4096},
		{"64Ki", 64 * KiB},
		{"64KiB", 64 * KiB},
		{"1mi", MiB},
		{"1.5Mi", MiB + 512*KiB},
		{"2G", 2 * GB},
		{" 10 kb ", 10 * KB},
		{"0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "Ki", "12Qi", "-1", "99999999999999999999Gi"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.Error(t, err)
		})
	}
}

func TestExactRoundTrip(t *testing.T) {
	for _, v := range []ByteSize{0, 1, 1000, KiB, 64 * KiB, 3 * MiB, GiB, 4097} {
		text, err := v.MarshalText()
		require.NoError(t, err)

		var back ByteSize
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, v, back, string(text))
	}
}

func TestStringAndClamp(t *testing.T) {
	assert.Equal(t, "64.00KiB", (64 * KiB).String())
	assert.Equal(t, "12B", ByteSize(12).String())
	assert.Equal(t, uint32(65536), (64 * KiB).Uint32())
	assert.Equal(t, uint32(0xffffffff), (8 * GiB).Uint32())
}
