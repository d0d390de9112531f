package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

// Init configures the package logger. Unknown levels default to info.
func Init(level string) {
	log = logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(w io.Writer) {
	ensure()
	log.SetOutput(w)
}

func ensure() {
	if log == nil {
		Init("info")
	}
}

func Debug(args ...interface{}) {
	ensure()
	log.Debug(args...)
}

func Info(args ...interface{}) {
	ensure()
	log.Info(args...)
}

func Warn(args ...interface{}) {
	ensure()
	log.Warn(args...)
}

func Error(args ...interface{}) {
	ensure()
	log.Error(args...)
}

func Fatal(args ...interface{}) {
	ensure()
	log.Fatal(args...)
}

func Debugf(format string, args ...interface{}) {
	ensure()
	log.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	ensure()
	log.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	ensure()
	log.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	ensure()
	log.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	ensure()
	log.Fatalf(format, args...)
}
