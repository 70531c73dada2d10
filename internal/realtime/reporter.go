package realtime

import (
	"github.com/sirupsen/logrus"
)

// reporter is the single path for non-fatal errors: it records the error on
// the session state, logs it and notifies the OnError callback.
type reporter struct {
	state   *SessionState
	onError func(error)
}

func (r *reporter) report(component string, err error) {
	if err == nil {
		return
	}
	r.state.SetError(err)
	logrus.WithFields(logrus.Fields{
		"component": component,
		"error":     err,
	}).Error("messaging operation failed")
	if r.onError != nil {
		r.onError(err)
	}
}
