package logflags

import (
	"errors"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var planner = false
var writer = false
var images = false
var alloc = false
var harness = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Planner returns true if the instrumentation planner should log.
func Planner() bool {
	return planner
}

// PlannerLogger returns a configured logger for the planner layer.
func PlannerLogger() *logrus.Entry {
	return makeLogger(planner, logrus.Fields{"layer": "planner"})
}

// Writer returns true if the trace writer should log.
func Writer() bool {
	return writer
}

// WriterLogger returns a configured logger for the trace writer layer.
func WriterLogger() *logrus.Entry {
	return makeLogger(writer, logrus.Fields{"layer": "writer"})
}

// Images returns true if the image registry should log.
func Images() bool {
	return images
}

// ImagesLogger returns a configured logger for the image registry layer.
func ImagesLogger() *logrus.Entry {
	return makeLogger(images, logrus.Fields{"layer": "images"})
}

// Alloc returns true if the allocation-return tracker should log.
func Alloc() bool {
	return alloc
}

// AllocLogger returns a configured logger for the allocation tracker layer.
func AllocLogger() *logrus.Entry {
	return makeLogger(alloc, logrus.Fields{"layer": "alloc"})
}

// Harness returns true if the harness executable should log.
func Harness() bool {
	return harness
}

// HarnessLogger returns a configured logger for the harness layer.
func HarnessLogger() *logrus.Entry {
	return makeLogger(harness, logrus.Fields{"layer": "harness"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets per-layer logging flags based on the contents of logstr,
// a comma-separated list drawn from "planner", "writer", "images",
// "alloc", "harness", or "all".
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "all"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(logcmd) {
		case "planner":
			planner = true
		case "writer":
			writer = true
		case "images":
			images = true
		case "alloc":
			alloc = true
		case "harness":
			harness = true
		case "all":
			planner, writer, images, alloc, harness = true, true, true, true, true
		}
	}
	return nil
}

// WriteTo redirects the stdlib logger's destination; used by the CLI
// layer to point --log-dest at a file instead of stderr.
func WriteTo(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	log.SetOutput(w)
}
