package build

// LogLevel specifies a default log level of info for loggers created with the
// stdout backend.
const LogLevel = "info"
