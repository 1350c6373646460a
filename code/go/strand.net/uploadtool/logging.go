package main

import (
	"github.com/spf13/viper"

	"github.com/strandnet/strand/code/go/strand.net/core/config"
	"github.com/strandnet/strand/code/go/strand.net/core/logging"
)

// initLogging routes logs to <log.dir>/strand-upload.log. In development
// mode the log is mirrored to stdout so the operator sees the approval URL
// without tailing a file.
func initLogging() {
	if config.Development() {
		viper.Set("logging.console", true)
		logging.InitLogging("development", logDir, "strand-upload.log")
	} else {
		logging.InitLogging("production", logDir, "strand-upload.log")
	}
}
