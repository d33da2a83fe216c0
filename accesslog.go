package frontdoor

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/One-com/gone/log"
	"github.com/pkg/errors"

	"github.com/One-com/gone/http/handlers/accesslog"
	"github.com/One-com/gone/http/rrwriter"
)

// representing an active accesslog file and the handler logging to it.
type activeAccesslog struct {
	filename string
	handler  accesslog.DynamicLogHandler
	writer   io.WriteCloser
}

// a global registry of all active accesslogs, so they can be reopened on log rotation.
var (
	registryLock sync.Mutex
	registry     = make(map[*activeAccesslog]struct{})
)

// ReopenAccessLogFiles opens the configured accesslog files and atomically replaces
// the old filehandles with the new ones - and closes the old file handles.
func ReopenAccessLogFiles() {
	registryLock.Lock()
	defer registryLock.Unlock()

	log.NOTICE("Reopening access log files")
	for spec := range registry {
		file, err := accessLogFile(spec.filename)
		if err != nil {
			log.ERROR("Could not reopen accesslog", "err", err, "file", spec.filename)
			continue
		}
		spec.handler.ToggleAccessLog(spec.writer, file) // swap the writer this handler is writing to
		spec.writer.Close()
		spec.writer = file
	}
}

// wrapAuditHandler wraps h in an accesslog capable handler which also calls the audit function.
// It returns the resulting handler and a function to be called when the handler is no longer in use.
func wrapAuditHandler(h http.Handler, accessLogDest string, mfunc accesslog.AuditFunction) (oh http.Handler, cleanup func() error, err error) {

	if mfunc == nil {
		mfunc = func(rrwriter.RecordingResponseWriter) {}
	}
	lh := accesslog.NewDynamicLogHandler(h, mfunc)
	oh = lh
	cleanup = func() error { return nil }

	if accessLogDest == "" {
		return
	}

	log.INFO("Opening logfile", "file", accessLogDest)
	out, err := accessLogFile(accessLogDest)
	if err != nil {
		return nil, nil, errors.Wrap(err, "access log")
	}

	spec := &activeAccesslog{filename: accessLogDest, handler: lh, writer: out}
	registryLock.Lock()
	registry[spec] = struct{}{}
	registryLock.Unlock()

	lh.ToggleAccessLog(nil, out)

	cleanup = func() error {
		registryLock.Lock()
		defer registryLock.Unlock()
		delete(registry, spec)
		lh.ToggleAccessLog(spec.writer, nil)
		log.INFO("Closing logfile", "file", accessLogDest)
		return spec.writer.Close()
	}
	return
}

func accessLogFile(dest string) (file io.WriteCloser, err error) {

	switch {
	case dest == "":
		err = fmt.Errorf("Invalid access log specification: \"\"")
	case dest[0] == '|':
		err = fmt.Errorf("Unimplemented access log spec: |")
	default:
		file, err = os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	}
	return
}
