package worker

import (
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("component", "worker")

func debugLog(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}
