package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. level accepts logrus names plus the
// dev/prod aliases; format "json" switches to the JSON formatter.
func New(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		logger.SetLevel(logrus.InfoLevel)
	case "dev", "development", "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "prod", "production":
		logger.SetLevel(logrus.WarnLevel)
	default:
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		logger.SetLevel(lvl)
	}

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
