package lookupd

import "github.com/sirupsen/logrus"

// defaultLogger is used whenever a Config leaves Logger nil, mirroring
// how routedns falls back to logrus's package logger.
func defaultLogger() *logrus.Logger {
	return logrus.StandardLogger()
}
