package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		logger.WithField("level", level).Warn("unknown LOG_LEVEL, using info")
	}
	logger.SetLevel(lvl)
	return logger
}

func LogError(logger *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	errorEntry(logger, moduleName, funcName, context, data).Error(err.Error())
}

// LogAlert is LogError with a top-level alert=true field for failures that
// need a person: invariant violations and failed compensations.
func LogAlert(logger *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	errorEntry(logger, moduleName, funcName, context, data).WithField("alert", true).Error(err.Error())
}

func errorEntry(logger *logrus.Logger, moduleName string, funcName string, context string, data any) *logrus.Entry {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	return logger.WithFields(fields)
}
