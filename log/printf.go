package log

// CategoryLogger adapts a Logger to the Errorf/Warnf/Debugf(format, args...)
// shape third party clients such as resty expect, logging under a fixed
// category.
type CategoryLogger struct {
	L        *Logger
	Category string
}

func (c CategoryLogger) Errorf(format string, v ...interface{}) {
	c.L.Errorf(c.Category, format, v...)
}

func (c CategoryLogger) Warnf(format string, v ...interface{}) {
	c.L.Warnf(c.Category, format, v...)
}

func (c CategoryLogger) Debugf(format string, v ...interface{}) {
	c.L.Debugf(c.Category, format, v...)
}
