package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHoldActuator_Jitter(t *testing.T) {
	t.Run("no jitter holds for exactly Hold", func(t *testing.T) {
		a := NewHoldActuator(50*time.Millisecond, 0, 7)
		for i := 0; i < 5; i++ {
			assert.Equal(t, 50*time.Millisecond, a.holdFor())
		}
	})

	t.Run("jitter stays within the fraction and is reproducible", func(t *testing.T) {
		const hold = 100 * time.Millisecond
		a := NewHoldActuator(hold, 0.5, 7)
		b := NewHoldActuator(hold, 0.5, 7)

		seen := map[time.Duration]bool{}
		for i := 0; i < 20; i++ {
			d := a.holdFor()
			assert.Equal(t, d, b.holdFor(), "same seed, same holds")
			assert.GreaterOrEqual(t, d, hold/2)
			assert.LessOrEqual(t, d, hold*3/2)
			seen[d] = true
		}
		assert.Greater(t, len(seen), 1, "holds vary")
	})
}
