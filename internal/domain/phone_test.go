package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	valid := []string{
		"0712345678",
		"+254712345678",
		"254712345678",
		"712345678",
		"0712 345 678",
		"(0712)-345-678",
		" +254 712 345 678 ",
	}
	for _, in := range valid {
		t.Run(in, func(t *testing.T) {
			got, err := NormalizePhone(in)
			require.NoError(t, err)
			assert.Equal(t, "254712345678", got)
		})
	}
}

func TestNormalizePhoneRejects(t *testing.T) {
	invalid := []string{
		"",
		"   ",
		"07123",
		"07123456789",
		"2547123456789",
		"07123a5678",
		"0712.345.678",
		"+",
	}
	for _, in := range invalid {
		t.Run(in, func(t *testing.T) {
			_, err := NormalizePhone(in)
			assert.ErrorIs(t, err, ErrInvalidPhone)
		})
	}
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "25471****678", MaskPhone("254712345678"))
	assert.Equal(t, "***", MaskPhone("1234"))
}
