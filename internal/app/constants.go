package app

const (
	Name           = "sbustap"
	ConfigFilename = "config.json"
	DBFilename     = "telemetry.db"
	LogFilename    = "sbustap.log"
)
