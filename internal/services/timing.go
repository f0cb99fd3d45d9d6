package services

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// TrackTime logs how long a call took. Use with defer.
func TrackTime(name string, start time.Time) {
	log.WithField("elapsed_ms", time.Since(start).Milliseconds()).Debugf("%s finished", name)
}
