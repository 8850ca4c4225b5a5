package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenInitialState(t *testing.T) {
	token := NewToken()
	assert.Equal(t, Running, token.State())

	select {
	case <-token.Stopping():
		t.Fatal("Stopping channel closed on a fresh token")
	case <-token.Forced():
		t.Fatal("Forced channel closed on a fresh token")
	default:
	}
}

func TestTokenGraceful(t *testing.T) {
	token := NewToken()
	token.Graceful()

	assert.Equal(t, GracefulStop, token.State())

	select {
	case <-token.Stopping():
	default:
		t.Fatal("Stopping channel not closed after Graceful")
	}

	select {
	case <-token.Forced():
		t.Fatal("Forced channel closed after only a graceful stop")
	default:
	}
}

func TestTokenForce(t *testing.T) {
	token := NewToken()
	token.Force()

	assert.Equal(t, ForcedStop, token.State())

	select {
	case <-token.Stopping():
	default:
		t.Fatal("Stopping channel not closed after Force")
	}
	select {
	case <-token.Forced():
	default:
		t.Fatal("Forced channel not closed after Force")
	}
}

func TestTokenMonotonic(t *testing.T) {
	token := NewToken()

	token.Force()
	require.Equal(t, ForcedStop, token.State())

	// A later graceful request never downgrades a forced stop.
	token.Graceful()
	assert.Equal(t, ForcedStop, token.State())
}

func TestTokenInterruptEscalates(t *testing.T) {
	token := NewToken()

	token.Interrupt()
	assert.Equal(t, GracefulStop, token.State())

	token.Interrupt()
	assert.Equal(t, ForcedStop, token.State())

	// Idempotent from here on.
	token.Interrupt()
	assert.Equal(t, ForcedStop, token.State())
}

func TestTokenConcurrentInterrupts(t *testing.T) {
	token := NewToken()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			token.Interrupt()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("concurrent interrupts did not finish")
		}
	}

	// With more than one interrupt the final state must be forced, and
	// both channels closed exactly once (no panic happened above).
	assert.Equal(t, ForcedStop, token.State())
}

func TestStopStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "graceful_stop", GracefulStop.String())
	assert.Equal(t, "forced_stop", ForcedStop.String())
}
