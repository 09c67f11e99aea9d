package takeoff

import (
	"sync"
	"time"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

// RunLog is the append-only log returned with every run. Entries are
// mirrored to the structured logger.
type RunLog struct {
	mu      sync.Mutex
	entries []models.RunLogEntry
	logger  logger.Logger
	now     func() time.Time
}

func newRunLog(log logger.Logger) *RunLog {
	return &RunLog{entries: []models.RunLogEntry{}, logger: log, now: time.Now}
}

func (l *RunLog) Info(msg, source, batch string) {
	l.add(models.SeverityInfo, msg, source, batch)
}

func (l *RunLog) Warn(msg, source, batch string) {
	l.add(models.SeverityWarn, msg, source, batch)
}

func (l *RunLog) Error(msg, source, batch string) {
	l.add(models.SeverityError, msg, source, batch)
}

func (l *RunLog) add(sev models.Severity, msg, source, batch string) {
	l.mu.Lock()
	l.entries = append(l.entries, models.RunLogEntry{
		Severity:   sev,
		Message:    msg,
		SourceFile: source,
		Batch:      batch,
		Time:       l.now(),
	})
	l.mu.Unlock()

	fields := []logger.Field{logger.String("source", source), logger.String("batch", batch)}
	switch sev {
	case models.SeverityError:
		l.logger.Error(msg, fields...)
	case models.SeverityWarn:
		l.logger.Warn(msg, fields...)
	default:
		l.logger.Info(msg, fields...)
	}
}

// Entries returns a copy of the log.
func (l *RunLog) Entries() []models.RunLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.RunLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Count returns the number of entries at sev.
func (l *RunLog) Count(sev models.Severity) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Severity == sev {
			n++
		}
	}
	return n
}
