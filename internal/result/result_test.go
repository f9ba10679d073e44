package result

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	r := Resolve(42)
	assert.True(t, r.OK())
	assert.Equal(t, 42, r.Data())
	assert.Empty(t, r.Message())
}

func TestReject(t *testing.T) {
	r := Reject[int]("it broke")
	assert.False(t, r.OK())
	assert.Zero(t, r.Data())
	assert.Equal(t, "it broke", r.Message())
}
