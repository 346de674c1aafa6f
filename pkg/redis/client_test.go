package redis

import (
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestGlobEscape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"sim:base.txt@3|", "sim:base.txt@3|"},
		{"sim:books/*.txt|", `sim:books/\*.txt|`},
		{"sim:vol[1]?|", `sim:vol\[1\]\?|`},
		{`sim:a\b|`, `sim:a\\b|`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, GlobEscape(tt.in))
		})
	}
}

func TestIsNilError(t *testing.T) {
	assert.True(t, IsNilError(redis.Nil))
	assert.True(t, IsNilError(fmt.Errorf("get: %w", redis.Nil)))
	assert.False(t, IsNilError(fmt.Errorf("connection refused")))
}
