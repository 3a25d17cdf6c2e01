package runtime

import "time"

const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "devsup"
)

// LogEntry is a single line of output captured from a service.
type LogEntry struct {
	Timestamp time.Time
	Message   string
	Source    string
	Level     string
}
