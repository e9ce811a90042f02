package eventlog

import (
	"fmt"
	"sync"
	"testing"

	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(sub *Subscription) []models.LogEntry {
	var out []models.LogEntry
	for {
		select {
		case e := <-sub.C():
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestLog_HistoryIsBounded(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Info("c1", fmt.Sprintf("message %d", i), nil)
	}

	history := l.History("c1")
	require.Len(t, history, 3)
	assert.Equal(t, "message 2", history[0].Message)
	assert.Equal(t, "message 4", history[2].Message)
	assert.Empty(t, l.History("other"))
}

func TestLog_SubscribeReplaysThenStreams(t *testing.T) {
	l := New(100)
	l.Info("c1", "before", nil)
	l.Warning("c1", "also before", map[string]interface{}{"n": 1})

	sub := l.Subscribe("c1")
	defer sub.Close()

	l.Success("c1", "after", nil)
	l.Error("c2", "other campaign", nil)

	entries := drain(sub)
	require.Len(t, entries, 3)
	assert.Equal(t, "before", entries[0].Message)
	assert.Equal(t, models.LevelWarning, entries[1].Level)
	assert.Equal(t, 1, entries[1].Data["n"])
	assert.Equal(t, "after", entries[2].Message)
	assert.Equal(t, models.LevelSuccess, entries[2].Level)
}

func TestLog_SlowSubscriberDoesNotBlock(t *testing.T) {
	l := New(10)
	slow := l.Subscribe("c1")
	fast := l.Subscribe("c1")
	defer slow.Close()
	defer fast.Close()

	var received int
	done := make(chan struct{})
	go func() {
		for range fast.C() {
			received++
		}
		close(done)
	}()

	for i := 0; i < defaultBufferSize*3; i++ {
		l.Info("c1", "tick", nil)
	}

	assert.Len(t, drain(slow), defaultBufferSize)

	fast.Close()
	<-done
	assert.Greater(t, received, 0)
}

func TestLog_CloseUnsubscribes(t *testing.T) {
	l := New(10)
	sub := l.Subscribe("c1")
	assert.Equal(t, 1, l.SubscriberCount("c1"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, l.SubscriberCount("c1"))

	_, open := <-sub.C()
	assert.False(t, open)

	// Publishing after unsubscribe must not panic
	l.Info("c1", "still fine", nil)
}

func TestLog_ConcurrentPublishSubscribe(t *testing.T) {
	l := New(100)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Info("c1", fmt.Sprintf("%d-%d", i, j), nil)
			}
		}(i)
		go func() {
			defer wg.Done()
			sub := l.Subscribe("c1")
			drain(sub)
			sub.Close()
		}()
	}
	wg.Wait()

	assert.Len(t, l.History("c1"), 100)
	assert.Equal(t, 0, l.SubscriberCount("c1"))
}
