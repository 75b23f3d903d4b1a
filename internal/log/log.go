// Package log implements a leveled, colorized terminal logger in the style
// used throughout the go-ethereum family of node codebases: a small number of
// named levels, key/value context pairs, and call-site capture for anything
// logged at Warn or above.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a log level, ordered from most to least severe.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

var levelColor = map[Lvl]*color.Color{
	LvlCrit:  color.New(color.FgMagenta, color.Bold),
	LvlError: color.New(color.FgRed),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgWhite),
}

// Logger emits leveled, contextual log lines.
type Logger struct {
	name string
	ctx  []interface{}
}

var (
	mu         sync.Mutex
	out        io.Writer = colorableStdout()
	minLevel             = LvlInfo
	useColor             = isatty.IsTerminal(os.Stdout.Fd())
)

func colorableStdout() io.Writer {
	return colorable.NewColorableStdout()
}

// SetOutput redirects all logger output; mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel sets the minimum level that is actually written.
func SetLevel(l Lvl) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// New returns a named logger carrying the given key/value context.
func New(name string, ctx ...interface{}) *Logger {
	return &Logger{name: name, ctx: ctx}
}

// With returns a derived logger with additional context appended.
func (l *Logger) With(ctx ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &Logger{name: l.name, ctx: merged}
}

func (l *Logger) log(lvl Lvl, msg string, ctx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl > minLevel {
		return
	}

	levelTag := lvl.String()
	if useColor {
		if c, ok := levelColor[lvl]; ok {
			levelTag = c.Sprint(levelTag)
		}
	}

	line := fmt.Sprintf("%s [%-5s] %-20s %s", time.Now().Format("01-02|15:04:05.000"), levelTag, l.name, msg)
	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		line += fmt.Sprintf(" %v=%v", all[i], all[i+1])
	}
	if lvl <= LvlWarn {
		line += fmt.Sprintf(" caller=%v", callSite())
	}
	fmt.Fprintln(out, line)
}

func callSite() stack.Call {
	call := stack.Caller(3)
	return call
}

func (l *Logger) Trace(msg string, ctx ...interface{}) { l.log(LvlTrace, msg, ctx) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.log(LvlDebug, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.log(LvlInfo, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.log(LvlWarn, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.log(LvlError, msg, ctx) }
func (l *Logger) Crit(msg string, ctx ...interface{})  { l.log(LvlCrit, msg, ctx); os.Exit(1) }

var root = New("root")

// Root returns the default, unnamed logger.
func Root() *Logger { return root }
