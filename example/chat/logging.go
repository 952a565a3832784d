package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ownerFormatter prefixes each entry with the component that logged it.
type ownerFormatter struct {
	owner string
	lf    logrus.Formatter
}

func (f *ownerFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Message = fmt.Sprintf("[%s] %s", f.owner, e.Message)
	return f.lf.Format(e)
}

func newLogger(owner, level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(lvl)
	logger.SetFormatter(&ownerFormatter{
		owner: owner,
		lf: &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.StampMilli,
		},
	})
	return logger, nil
}
