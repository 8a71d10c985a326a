package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdjacent(t *testing.T) {
	origin := Position{X: 1, Y: 1}
	assert.True(t, Adjacent(origin, Position{X: 2, Y: 1}))
	assert.True(t, Adjacent(origin, Position{X: 1, Y: 0}))
	assert.False(t, Adjacent(origin, Position{X: 2, Y: 2}), "diagonal")
	assert.False(t, Adjacent(origin, Position{X: 3, Y: 1}), "two steps")
	assert.False(t, Adjacent(origin, origin), "no-op")
}

func TestDimensionsContains(t *testing.T) {
	d := Dimensions{Width: 3, Height: 2}
	assert.True(t, d.Contains(Position{X: 0, Y: 0}))
	assert.True(t, d.Contains(Position{X: 2, Y: 1}))
	assert.False(t, d.Contains(Position{X: 3, Y: 0}))
	assert.False(t, d.Contains(Position{X: 0, Y: 2}))
	assert.False(t, d.Contains(Position{X: -1, Y: 0}))
	assert.Equal(t, 6, d.Cells())
	assert.False(t, Dimensions{Width: 0, Height: 4}.Valid())
}

func TestStepAndParseDirection(t *testing.T) {
	p := Position{X: 1, Y: 1}
	assert.Equal(t, Position{X: 1, Y: 0}, p.Step(ParseDirection("UP")))
	assert.Equal(t, Position{X: 1, Y: 2}, p.Step(ParseDirection("down")))
	assert.Equal(t, Position{X: 0, Y: 1}, p.Step(ParseDirection("a")))
	assert.Equal(t, Position{X: 2, Y: 1}, p.Step(DirRight))
	assert.Equal(t, p, p.Step(ParseDirection("sideways")))
}
