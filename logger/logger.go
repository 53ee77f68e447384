// Package logger is the per-subsystem logging backend every other
// package in this tree writes through, grounded on
// daglabs-btcd/logger/logger.go: a shared rotating-file backend
// (`github.com/jrick/logrotate/rotator`), a registry of subsystem
// loggers keyed by a short tag, and package-level SetLogLevel(s)
// helpers a config loader calls once at startup. The teacher's own
// leveled-logger core (its vendored `logs` package) isn't part of this
// corpus, so that piece is reimplemented directly here in the same
// shape: a tag, a level, and a handful of *f methods gated by it.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrick/logrotate/rotator"
)

// Level orders logging severity, least to most.
type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRC"
	case LevelDebug:
		return "DBG"
	case LevelInfo:
		return "INF"
	case LevelWarn:
		return "WRN"
	case LevelError:
		return "ERR"
	case LevelCritical:
		return "CRT"
	default:
		return "OFF"
	}
}

// LevelFromString parses a level name case-insensitively, defaulting
// to LevelInfo (and reporting false) for anything unrecognized —
// SetLogLevel relies on this so a typo in a config file degrades to
// info logging rather than aborting startup.
func LevelFromString(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "critical":
		return LevelCritical, true
	case "off":
		return LevelOff, true
	default:
		return LevelInfo, false
	}
}

// Logger writes tagged, leveled lines through the shared backend
// writer. The zero value is not usable; obtain one via Get.
type Logger struct {
	tag   string
	level Level32
}

// Level32 is an int32 read/written atomically so SetLevel can race
// harmlessly against concurrent log calls from other goroutines.
type Level32 struct {
	v int32
}

func (l *Level32) get() Level   { return Level(atomic.LoadInt32(&l.v)) }
func (l *Level32) set(lv Level) { atomic.StoreInt32(&l.v, int32(lv)) }

// SetLevel changes the minimum level this logger emits.
func (l *Logger) SetLevel(level Level) { l.level.set(level) }

// Level returns the logger's current minimum level.
func (l *Logger) Level() Level { return l.level.get() }

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level.get() {
		return
	}
	line := fmt.Sprintf("%s [%s] %s %s\n",
		time.Now().UTC().Format("2006-01-02 15:04:05.000"),
		level, l.tag, fmt.Sprintf(format, args...))
	writeLine(line)
}

func (l *Logger) Tracef(format string, args ...interface{})    { l.log(LevelTrace, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{})    { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})     { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})     { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{})    { l.log(LevelError, format, args...) }
func (l *Logger) Criticalf(format string, args ...interface{}) { l.log(LevelCritical, format, args...) }

// logWriter fans every line out to standard output and the rotating
// log file, mirroring logWriter/errLogWriter in daglabs-btcd's
// logger.go — here unified into one writer since this node does not
// split warning-and-above into a second file the way the teacher does.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	backendMu.Lock()
	defer backendMu.Unlock()
	os.Stdout.Write(p)
	if fileRotator != nil {
		fileRotator.Write(p)
	}
	return len(p), nil
}

var (
	backendMu   sync.Mutex
	fileRotator *rotator.Rotator
	output      io.Writer = logWriter{}
)

func writeLine(line string) {
	output.Write([]byte(line))
}

// InitLogRotator opens the rotating log file at logFile (creating its
// directory if needed) so Logger output starts being persisted to
// disk in addition to standard output. It must be called once during
// startup before any subsystem logger is used in earnest; calls
// before this point still print to standard output, they just aren't
// durable yet.
func InitLogRotator(logFile string) error {
	dir := filepath.Dir(logFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("logger: failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("logger: failed to create file rotator: %w", err)
	}
	backendMu.Lock()
	fileRotator = r
	backendMu.Unlock()
	return nil
}

// Subsystem tags, one per package with meaningful log output. Kept as
// named constants (rather than the teacher's anonymous struct of
// string fields) since this node's subsystem set is fixed and small.
const (
	TagChain   = "CHAN"
	TagMempool = "MPOL"
	TagNetPeer = "PEER"
	TagUTXO    = "UTXO"
	TagStore   = "BSTR"
	TagRPC     = "RPCS"
	TagConfig  = "CNFG"
	TagNode    = "NODE"
)

var registry = map[string]*Logger{
	TagChain:   {tag: TagChain},
	TagMempool: {tag: TagMempool},
	TagNetPeer: {tag: TagNetPeer},
	TagUTXO:    {tag: TagUTXO},
	TagStore:   {tag: TagStore},
	TagRPC:     {tag: TagRPC},
	TagConfig:  {tag: TagConfig},
	TagNode:    {tag: TagNode},
}

func init() {
	for _, l := range registry {
		l.level.set(LevelInfo)
	}
}

// Get returns the logger for the named subsystem tag, or nil if tag is
// not one of the constants above.
func Get(tag string) *Logger { return registry[tag] }

// SetLogLevel sets the level of one named subsystem. An invalid tag is
// ignored, matching the teacher's tolerance for a stale or misspelled
// entry in a config file.
func SetLogLevel(tag, levelName string) {
	l, ok := registry[tag]
	if !ok {
		return
	}
	level, _ := LevelFromString(levelName)
	l.SetLevel(level)
}

// SetLogLevels sets every subsystem logger to the same level, the
// common case of a single "-loglevel" flag at startup.
func SetLogLevels(levelName string) {
	for tag := range registry {
		SetLogLevel(tag, levelName)
	}
}

// SupportedSubsystems returns every recognized subsystem tag, sorted,
// for a "-loglevel help"-style CLI listing.
func SupportedSubsystems() []string {
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// DirectionString renders a connection's direction for log lines.
func DirectionString(inbound bool) string {
	if inbound {
		return "inbound"
	}
	return "outbound"
}

// PickNoun returns the singular or plural form of a noun depending on
// count n, used throughout peer/chain logging ("1 block" vs "3 blocks").
func PickNoun(n uint64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
