package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidMobile(t *testing.T) {
	tests := []struct {
		mobile string
		valid  bool
	}{
		{"13800000000", true},
		{"19912345678", true},
		{"12800000000", false},
		{"1380000000", false},
		{"138000000001", false},
		{"1380000000a", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.mobile, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidMobile(tt.mobile))
		})
	}
}

func TestMaskMobile(t *testing.T) {
	assert.Equal(t, "138****5678", MaskMobile("13812345678"))
	assert.Equal(t, "short", MaskMobile("short"))
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;x&lt;/b&gt;", SanitizeInput("  <b>x</b> "))
	assert.True(t, ContainsSuspicious("<script>"))
	assert.True(t, ContainsSuspicious("${jndi}"))
	assert.False(t, ContainsSuspicious("alice_01"))
	assert.False(t, ContainsSuspicious("description"))
}
