package checkout

import (
	"time"

	"github.com/sirupsen/logrus"
)

// logAnalyticsSink records events as structured log entries. It satisfies the
// fire-and-forget contract trivially: logrus writes are synchronous but never
// return errors to the caller.
type logAnalyticsSink struct {
	log *logrus.Entry
}

// NewLogAnalyticsSink creates an AnalyticsSink backed by the given logger.
func NewLogAnalyticsSink(logger *logrus.Logger) AnalyticsSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &logAnalyticsSink{log: logger.WithField("component", "analytics")}
}

func (s *logAnalyticsSink) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.log.WithFields(logrus.Fields{
		"event":      event.Name,
		"properties": event.Properties,
		"timestamp":  event.Timestamp,
	}).Debug("analytics event")
}

// nopAnalyticsSink drops every event.
type nopAnalyticsSink struct{}

// NewNopAnalyticsSink creates a sink that discards all events.
func NewNopAnalyticsSink() AnalyticsSink {
	return nopAnalyticsSink{}
}

func (nopAnalyticsSink) Record(Event) {}
