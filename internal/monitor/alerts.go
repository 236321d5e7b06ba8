package monitor

// AlertSink delivers a formatted alert string somewhere an operator will
// see it; pluggable so tests can capture alerts instead of logging them.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the standard logger. The zero value is ready to use.
type LogSink struct{}

// Send logs the alert and always succeeds.
func (LogSink) Send(message string) error {
	logAlert(message)
	return nil
}
