package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		key     string
		pattern string
		want    bool
	}{
		// No wildcard means exact equality.
		{"analysis:42", "analysis:42", true},
		{"analysis:42", "analysis:4", false},
		{"analysis:4", "analysis:42", false},

		// Trailing wildcard.
		{"analysis:42", "analysis:*", true},
		{"analysis:", "analysis:*", true},
		{"summary:42", "analysis:*", false},

		// Leading wildcard.
		{"analysis:42:summary", "*:summary", true},
		{"analysis:42:detail", "*:summary", false},

		// Interior wildcard.
		{"analysis:post:42", "analysis:*:42", true},
		{"analysis:post:43", "analysis:*:42", false},

		// Interior fragments must appear in order.
		{"a:one:two:b", "a:*one*two*b", true},
		{"a:two:one:b", "a:*one*two*b", false},

		// Bare star matches everything, including the empty key.
		{"anything", "*", true},
		{"", "*", true},

		// Prefix and suffix may not overlap within the key.
		{"ab", "abc*c", false},
		{"abcc", "abc*c", true},

		// Empty pattern only matches the empty key.
		{"", "", true},
		{"x", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, matchPattern(tt.key, tt.pattern))
		})
	}
}

func TestPhysicalKey(t *testing.T) {
	pk := physicalKey("1.0", "analysis:42", 250)
	assert.Equal(t, "1.0:analysis:42", pk)

	// Over-length keys collapse to "<version>:<hash>" and stay stable.
	long := string(make([]byte, 300))
	hashed := physicalKey("1.0", long, 250)
	assert.True(t, len(hashed) <= 250)
	assert.Contains(t, hashed, "1.0:")
	assert.Equal(t, hashed, physicalKey("1.0", long, 250))

	// Different versions hash to different physical keys.
	assert.NotEqual(t, hashed, physicalKey("2.0", long, 250))

	// A zero max length disables collapsing.
	assert.Equal(t, "1.0:"+long, physicalKey("1.0", long, 0))
}

func TestContentFilename(t *testing.T) {
	name := contentFilename("1.0:analysis:42")
	assert.Len(t, name, 68) // sha256 hex + ".dat"
	assert.Contains(t, name, ".dat")
	assert.Equal(t, name, contentFilename("1.0:analysis:42"))
	assert.NotEqual(t, name, contentFilename("2.0:analysis:42"))
}
