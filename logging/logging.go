// Package logging is the worker's internal diagnostic trace — distinct
// from the Callback Sink, which is the caller-facing notification surface.
// Grounded on the teacher's logging/global_logger.go, trimmed of the
// file-rotation and fallback-notification machinery a multi-tenant server
// needs and a single background worker does not (see DESIGN.md).
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/gookit/color"

	"github.com/skywave-uplink/habuplink/timestamp"
)

const (
	errPrefix   = "[ERROR]"
	warnPrefix  = "[WARN]"
	infoPrefix  = "[INFO]"
	debugPrefix = "[DEBUG]"
)

// CurrentLevel gates which calls actually write. It defaults to UNKNOWN
// (log everything) until Init sets it.
var CurrentLevel = UNKNOWN

// Init points the package logger at writer and sets the verbosity
// threshold. Safe to call more than once; the last call wins.
func Init(writer io.Writer, levelStr string) {
	log.SetOutput(dateTimeWriterProxy{writer: writer})
	log.SetFlags(0)
	CurrentLevel = ToLevel(levelStr)
}

// dateTimeWriterProxy prefixes every log line with the current time,
// grounded on the teacher's logging.DateTimeWriterProxy.
type dateTimeWriterProxy struct {
	writer io.Writer
}

func (wp dateTimeWriterProxy) Write(bytes []byte) (int, error) {
	return wp.writer.Write([]byte(time.Now().UTC().Format(timestamp.LogsLayout) + " " + string(bytes)))
}

func Debugf(format string, args ...interface{}) { Debug(fmt.Sprintf(format, args...)) }

func Debug(msg string) {
	if CurrentLevel <= DEBUG {
		log.Println(debugPrefix, msg)
	}
}

func Infof(format string, args ...interface{}) { Info(fmt.Sprintf(format, args...)) }

func Info(msg string) {
	if CurrentLevel <= INFO {
		log.Println(infoPrefix, msg)
	}
}

func Warnf(format string, args ...interface{}) { Warn(fmt.Sprintf(format, args...)) }

func Warn(msg string) {
	if CurrentLevel <= WARN {
		log.Println(color.Yellow.Sprint(strings.Join([]string{warnPrefix, msg}, " ")))
	}
}

func Errorf(format string, args ...interface{}) { Error(fmt.Sprintf(format, args...)) }

func Error(msg string) {
	if CurrentLevel <= ERROR {
		log.Println(color.Red.Sprint(strings.Join([]string{errPrefix, msg}, " ")))
	}
}

// SystemErrorf reports an error internal to the worker itself (a panic
// recovered by safego, a resource-close failure) rather than an action
// outcome — action outcomes go through the Callback Sink, not here.
func SystemErrorf(format string, args ...interface{}) {
	Errorf("system error: "+format, args...)
}
