package eventlog

import (
	"sync"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

const defaultBufferSize = 64

// Log broadcasts campaign progress events to subscribers and keeps a bounded history per campaign
type Log struct {
	feeds       *xsync.MapOf[string, *feed]
	historySize int
	bufferSize  int
}

type feed struct {
	mu          sync.Mutex
	history     []models.LogEntry
	subscribers map[*Subscription]struct{}
}

// Subscription is a live stream of one campaign's log entries
type Subscription struct {
	campaignID string
	ch         chan models.LogEntry
	log        *Log
	once       sync.Once
}

// New creates an event log retaining historySize entries per campaign
func New(historySize int) *Log {
	if historySize <= 0 {
		historySize = 100
	}
	return &Log{
		feeds:       xsync.NewMapOf[string, *feed](),
		historySize: historySize,
		bufferSize:  defaultBufferSize,
	}
}

func (l *Log) feed(campaignID string) *feed {
	f, _ := l.feeds.LoadOrCompute(campaignID, func() *feed {
		return &feed{subscribers: make(map[*Subscription]struct{})}
	})
	return f
}

// Publish records an entry and delivers it to every subscriber without blocking.
// Subscribers whose buffer is full miss the entry.
func (l *Log) Publish(campaignID string, level models.LogLevel, message string, data map[string]interface{}) {
	entry := models.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Data:      data,
	}

	fields := logrus.Fields{"campaign_id": campaignID, "level": string(level)}
	switch level {
	case models.LevelError:
		logrus.WithFields(fields).Error(message)
	case models.LevelWarning:
		logrus.WithFields(fields).Warn(message)
	default:
		logrus.WithFields(fields).Info(message)
	}

	f := l.feed(campaignID)
	f.mu.Lock()
	defer f.mu.Unlock()

	f.history = append(f.history, entry)
	if over := len(f.history) - l.historySize; over > 0 {
		f.history = append(f.history[:0:0], f.history[over:]...)
	}

	for sub := range f.subscribers {
		select {
		case sub.ch <- entry:
		default:
			logrus.Debugf("Dropping log entry for slow subscriber on campaign %s", campaignID)
		}
	}
}

func (l *Log) Info(campaignID, message string, data map[string]interface{}) {
	l.Publish(campaignID, models.LevelInfo, message, data)
}

func (l *Log) Warning(campaignID, message string, data map[string]interface{}) {
	l.Publish(campaignID, models.LevelWarning, message, data)
}

func (l *Log) Error(campaignID, message string, data map[string]interface{}) {
	l.Publish(campaignID, models.LevelError, message, data)
}

func (l *Log) Success(campaignID, message string, data map[string]interface{}) {
	l.Publish(campaignID, models.LevelSuccess, message, data)
}

// History returns a copy of the retained entries of a campaign
func (l *Log) History(campaignID string) []models.LogEntry {
	f, ok := l.feeds.Load(campaignID)
	if !ok {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.LogEntry(nil), f.history...)
}

// Subscribe returns a subscription that first replays the retained history, then streams new entries
func (l *Log) Subscribe(campaignID string) *Subscription {
	f := l.feed(campaignID)
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &Subscription{
		campaignID: campaignID,
		ch:         make(chan models.LogEntry, len(f.history)+l.bufferSize),
		log:        l,
	}
	for _, entry := range f.history {
		sub.ch <- entry
	}
	f.subscribers[sub] = struct{}{}
	return sub
}

// SubscriberCount returns the number of live subscribers of a campaign
func (l *Log) SubscriberCount(campaignID string) int {
	f, ok := l.feeds.Load(campaignID)
	if !ok {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// C returns the entry stream. It is closed by Close.
func (s *Subscription) C() <-chan models.LogEntry { return s.ch }

// Close unsubscribes and closes the stream. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		f := s.log.feed(s.campaignID)
		f.mu.Lock()
		delete(f.subscribers, s)
		close(s.ch)
		f.mu.Unlock()
	})
}
