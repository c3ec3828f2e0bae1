package enums

// LogLevel is the severity stored on fulfillment logs.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// String implements fmt.Stringer.
func (l LogLevel) String() string {
	return string(l)
}
