// Package blog provides the leveled logger used throughout HDS, mirroring
// the small logging interface the rest of the stack is written against so
// call sites never depend on a concrete logging backend.
package blog

import (
	"fmt"
	"log"
	"os"

	"github.com/jmhodges/clock"
)

// Logger is the leveled logging interface used across HDS's packages.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warning(msg string)
	Err(msg string)
	AuditErr(msg string)
	AuditPanic()
}

type impl struct {
	stdout *log.Logger
	stderr *log.Logger
	clk    clock.Clock
	debug  bool
}

// New returns a Logger that writes to stdout/stderr with a clock-stamped
// prefix. Pass debug=true to also emit Debug-level lines.
func New(clk clock.Clock, debug bool) Logger {
	return &impl{
		stdout: log.New(os.Stdout, "", 0),
		stderr: log.New(os.Stderr, "", 0),
		clk:    clk,
		debug:  debug,
	}
}

func (l *impl) line(level, msg string) string {
	return fmt.Sprintf("%s [%s] %s", l.clk.Now().UTC().Format("2006-01-02T15:04:05.000Z"), level, msg)
}

func (l *impl) Debug(msg string) {
	if l.debug {
		l.stdout.Println(l.line("DEBUG", msg))
	}
}

func (l *impl) Info(msg string) {
	l.stdout.Println(l.line("INFO", msg))
}

func (l *impl) Warning(msg string) {
	l.stderr.Println(l.line("WARN", msg))
}

func (l *impl) Err(msg string) {
	l.stderr.Println(l.line("ERR", msg))
}

// AuditErr logs a condition an operator should be aware of even though it
// does not crash the process (e.g. a federation push to a single peer
// failing).
func (l *impl) AuditErr(msg string) {
	l.stderr.Println(l.line("AUDIT-ERR", msg))
}

// AuditPanic recovers a panic in progress, logs it, and re-panics so the
// process still crashes (and whatever supervises it can restart it) but the
// failure is captured in the log stream first. Callers defer this at the
// top of main().
func (l *impl) AuditPanic() {
	if r := recover(); r != nil {
		l.stderr.Println(l.line("AUDIT-PANIC", fmt.Sprintf("%v", r)))
		panic(r)
	}
}
