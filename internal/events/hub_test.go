package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedge-core/pkg/logger"
)

func init() { logger.Discard() }

func TestHubHistoryRing(t *testing.T) {
	h := NewHub(NewBus(), 3)
	for i := 1; i <= 5; i++ {
		h.Log(LevelInfo, fmt.Sprintf("line %d", i))
	}
	hist := h.History()
	require.Len(t, hist, 3)
	assert.Equal(t, "line 3", hist[0].Message)
	assert.Equal(t, "line 5", hist[2].Message)
}

func TestHubHistoryPartial(t *testing.T) {
	h := NewHub(NewBus(), DefaultHistorySize)
	h.nowFunc = func() time.Time { return time.Date(2024, 1, 1, 9, 5, 7, 0, time.UTC) }
	h.Log(LevelSuccess, "opened BTC")

	hist := h.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "log", hist[0].Type)
	assert.Equal(t, "09:05:07", hist[0].Timestamp)
	assert.Equal(t, LevelSuccess, hist[0].Level)
}

func TestHubFanOut(t *testing.T) {
	bus := NewBus()
	h := NewHub(bus, 10)
	ch, unsub := bus.Subscribe(EventBroadcast, 10)
	defer unsub()
	refresh, unsubRefresh := bus.Subscribe(EventRefresh, 1)
	defer unsubRefresh()

	h.Progress(ProgressMessage{TaskName: "close", Total: 2})
	h.Status("done", false)
	h.Refresh()

	p := (<-ch).(ProgressMessage)
	assert.Equal(t, "progress_update", p.Type)
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, "status", (<-ch).(StatusMessage).Type)
	assert.Equal(t, "refresh_positions", (<-ch).(RefreshMessage).Type)
	<-refresh
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventBroadcast, 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(EventBroadcast, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Equal(t, 0, <-ch)
}
