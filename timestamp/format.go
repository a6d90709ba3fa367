package timestamp

// LogsLayout is the timestamp format used for log-line prefixes.
const LogsLayout = "2006-01-02 15:04:05"
