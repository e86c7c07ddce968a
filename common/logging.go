// Package common provides logging, field-naming, and small utility helpers
// shared by every package in the module. It is the ambient layer: nothing
// here is specific to pipelines or flows.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes error-level log lines to stderr and everything else
// to stdout, so container log collectors can treat the two streams
// differently without parsing JSON.
type OutputSplitter struct{}

func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the process-wide fallback logger used where no request- or
// task-scoped *logrus.Entry has been threaded through yet.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
