package validation

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		host    string
		port    uint16
		want    string
		wantErr bool
	}{
		{"127.0.0.1", 5000, "127.0.0.1:5000", false},
		{"::1", 443, "[::1]:443", false},
		{"[2001:db8::5]", 80, "[2001:db8::5]:80", false},
		{"::ffff:10.1.2.3", 9, "10.1.2.3:9", false},
		{"", 5000, "", true},
		{"example.com", 5000, "", true},
		{"127.0.0.1", 0, "", true},
		{"300.1.1.1", 1, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, err := ParseDestination(tt.host, tt.port)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDestination)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, netip.MustParseAddrPort(tt.want), got)
		})
	}
}

func TestParseHostPort(t *testing.T) {
	got, err := ParseHostPort("[::ffff:127.0.0.1]:5000")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:5000"), got)

	_, err = ParseHostPort("127.0.0.1:0")
	assert.ErrorIs(t, err, ErrInvalidDestination)

	_, err = ParseHostPort("localhost:5000")
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, ValidateAddr("127.0.0.1:7400"))
	assert.ErrorIs(t, ValidateAddr(""), ErrInvalidAddr)
	assert.ErrorIs(t, ValidateAddr("127.0.0.1:notaport"), ErrInvalidAddr)

	assert.ErrorIs(t, ValidateStringNonEmpty(""), ErrEmptyString)
	assert.NoError(t, ValidateStringNonEmpty("x"))

	assert.NoError(t, ValidateRangeInt(5, 0, 10))
	assert.ErrorIs(t, ValidateRangeInt(11, 0, 10), ErrOutOfRange)

	assert.NoError(t, ValidatePositiveDuration(time.Nanosecond))
	assert.ErrorIs(t, ValidatePositiveDuration(0), ErrOutOfRange)
}
