package storage

import (
	"github.com/sirupsen/logrus"
)

// logger only writes when the debugger is enabled in Config.
type logger struct {
	entry           *logrus.Entry
	debuggerEnabled bool
}

func (l *logger) debug(s string, args ...interface{}) {
	if l != nil && l.debuggerEnabled && l.entry != nil {
		l.entry.Debugf(s, args...)
	}
}

// warn is always written; cache failures never fail a request.
func (l *logger) warn(err error, s string, args ...interface{}) {
	if l != nil && l.entry != nil {
		l.entry.WithError(err).Warnf(s, args...)
	}
}
