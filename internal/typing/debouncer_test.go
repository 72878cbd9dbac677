package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adi-253/dmsync/internal/models"
	"github.com/adi-253/dmsync/internal/realtime"
	"github.com/adi-253/dmsync/internal/realtime/realtimetest"
)

func TestKeystrokesWithinWindowEmitOneStop(t *testing.T) {
	bus := realtimetest.NewBus()
	d := NewDebouncer(bus, "1", 80*time.Millisecond)

	for i := 0; i < 3; i++ {
		d.Keystroke()
		time.Sleep(20 * time.Millisecond)
	}
	require.Equal(t, 3, bus.Count(realtime.EventTyping))
	require.Equal(t, 0, bus.Count(realtime.EventStopTyping))

	require.Eventually(t, func() bool { return bus.Count(realtime.EventStopTyping) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 1, bus.Count(realtime.EventStopTyping))
	require.False(t, d.Active())

	stop, ok := bus.Last(realtime.EventStopTyping)
	require.True(t, ok)
	require.Equal(t, models.ChatRef{ChatID: "1"}, stop.Payload)
}

func TestFlushEmitsImmediately(t *testing.T) {
	bus := realtimetest.NewBus()
	d := NewDebouncer(bus, "1", 50*time.Millisecond)

	d.Flush()
	require.Equal(t, 0, bus.Count(realtime.EventStopTyping))

	d.Keystroke()
	d.Flush()
	require.Equal(t, 1, bus.Count(realtime.EventStopTyping))
	require.False(t, d.Active())

	time.Sleep(120 * time.Millisecond)
	require.Equal(t, 1, bus.Count(realtime.EventStopTyping))
}

func TestStopCancelsSilently(t *testing.T) {
	bus := realtimetest.NewBus()
	d := NewDebouncer(bus, "1", 30*time.Millisecond)

	d.Keystroke()
	d.Stop()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, bus.Count(realtime.EventStopTyping))
}
