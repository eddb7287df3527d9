package perk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceM(t *testing.T) {
	// Same point.
	assert.Equal(t, 0.0, distanceM(51.5, -0.12, 51.5, -0.12))

	// One degree of latitude is ~111.2km.
	assert.InDelta(t, 111195, distanceM(0, 0, 1, 0), 100)

	// Charing Cross to Trafalgar Square, a few hundred meters.
	d := distanceM(51.5073, -0.1276, 51.5080, -0.1281)
	assert.Greater(t, d, 50.0)
	assert.Less(t, d, 150.0)

	// Symmetric.
	assert.InDelta(t,
		distanceM(51.5, -0.12, 51.6, -0.10),
		distanceM(51.6, -0.10, 51.5, -0.12),
		0.0001,
	)
}
