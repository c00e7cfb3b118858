package obs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the global logrus logger. level is one of the logrus
// level names (empty defaults to info). When dataDir is non-empty, output is
// teed to a rotated log file under it.
func Setup(level, dataDir string, hooks ...logrus.Hook) error {
	lvl := logrus.InfoLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return err
		}
		lvl = parsed
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	writers := []io.Writer{os.Stderr}
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(dataDir, "plexus.log"),
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}
	logrus.SetOutput(io.MultiWriter(writers...))

	for _, h := range hooks {
		logrus.AddHook(h)
	}
	return nil
}
