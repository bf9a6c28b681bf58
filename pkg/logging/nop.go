package logging

// nopLogger discards every log entry. It is the default logger for
// components constructed without an explicit one.
type nopLogger struct{}

func (nopLogger) Debugf(format string, v ...interface{}) {}
func (nopLogger) Infof(format string, v ...interface{})  {}
func (nopLogger) Warnf(format string, v ...interface{})  {}
func (nopLogger) Errorf(format string, v ...interface{}) {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns l unchanged, or a no-op logger when l is nil.
// Constructors call this so a nil logger argument is always safe.
func OrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
