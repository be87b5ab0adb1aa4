package safe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunRecovers(t *testing.T) {
	ran := false
	assert.NotPanics(t, func() {
		Run("test", func() {
			ran = true
			panic("boom")
		})
	})
	assert.True(t, ran)
}

func TestMustNotNil(t *testing.T) {
	var p *int
	assert.Panics(t, func() { MustNotNil(p, "p") })
	assert.Panics(t, func() { MustNotNil(nil, "nil") })
	assert.NotPanics(t, func() { MustNotNil(1, "int") })
}

func TestDefaultString(t *testing.T) {
	assert.Equal(t, "x", DefaultString("", "x"))
	assert.Equal(t, "y", DefaultString("y", "x"))
}
