// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ScheduledTask runs one function on a cron schedule until cancelled.
type ScheduledTask struct {
	cronID cron.EntryID
	cron   *cron.Cron
	cancel chan struct{}
}

// NewScheduledTask starts taskFunc on cronSpec, which accepts the standard
// five-field syntax and descriptors such as "@every 5m". Overlapping runs
// are skipped and panics are recovered and logged.
func NewScheduledTask(cronSpec string, logger *logrus.Logger, taskFunc func()) (*ScheduledTask, error) {
	cl := cronLogger{logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	cancel := make(chan struct{})
	task := &ScheduledTask{
		cron:   c,
		cancel: cancel,
	}

	id, err := c.AddFunc(cronSpec, func() {
		select {
		case <-cancel:
			return
		default:
			taskFunc()
		}
	})
	if err != nil {
		return nil, err
	}

	task.cronID = id
	c.Start()
	return task, nil
}

// Cancel stops future runs and waits for a running one to finish.
func (s *ScheduledTask) Cancel() {
	s.cron.Remove(s.cronID)
	close(s.cancel)
	<-s.cron.Stop().Done()
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	l *logrus.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.WithFields(fields(keysAndValues)).Debug(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}
