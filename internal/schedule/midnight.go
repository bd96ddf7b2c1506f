// Package schedule runs the daily collection job: settlement data for a
// day is final only after the day ends, so each UTC midnight triggers
// processing of the previous day.
package schedule

import (
	"time"

	"go.uber.org/zap"
)

// DailyJob runs Process for the previous UTC day once at startup and then
// at every UTC midnight.
type DailyJob struct {
	Process func(date string)
	Logger  *zap.Logger

	// overridable for tests
	now func() time.Time
}

func (j *DailyJob) Start() {
	if j.now == nil {
		j.now = time.Now
	}

	go func() {
		// Run immediately once at startup
		j.runOnce()

		// Wait until next UTC midnight
		now := j.now().UTC()
		nextMidnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		time.Sleep(time.Until(nextMidnight))

		// Then run once every 24 hours
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			j.runOnce()
			<-ticker.C
		}
	}()
}

func (j *DailyJob) runOnce() {
	date := j.now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	j.Logger.Info("daily collection starting", zap.String("date", date))
	j.Process(date)
}
