// Package observability provides structured logging and Prometheus metrics
// for the orchestrator. Components depend on the Logger and Metrics
// interfaces, never on concrete adapters.
package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

// Logger defines the contract for structured logging. Fields are passed as
// alternating key-value pairs: logger.Info("started", "task_id", id).
type Logger interface {
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	Debug(msg string, kv ...interface{})

	// WithFields returns a logger that includes the given fields in every
	// entry it writes.
	WithFields(fields map[string]interface{}) Logger
}

// Log levels in increasing order of severity.
const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

var levelNames = map[string]int{
	"debug": levelDebug,
	"info":  levelInfo,
	"warn":  levelWarn,
	"error": levelError,
}

// StdLogger writes structured entries to a writer, as JSON or as a readable
// text line depending on configuration.
type StdLogger struct {
	fields   map[string]interface{}
	minLevel int
	json     bool
	out      *log.Logger
}

// LoggerOptions configures NewLogger.
type LoggerOptions struct {
	// Level is the minimum level to emit: debug, info, warn, error.
	Level string
	// JSON selects JSON output; text otherwise.
	JSON bool
	// Output defaults to os.Stdout.
	Output io.Writer
}

// NewLogger creates a structured logger writing to opts.Output.
func NewLogger(opts LoggerOptions) *StdLogger {
	w := opts.Output
	if w == nil {
		w = os.Stdout
	}
	minLevel, ok := levelNames[strings.ToLower(opts.Level)]
	if !ok {
		minLevel = levelInfo
	}
	return &StdLogger{
		fields:   make(map[string]interface{}),
		minLevel: minLevel,
		json:     opts.JSON,
		out:      log.New(w, "", 0),
	}
}

func (l *StdLogger) Info(msg string, kv ...interface{})  { l.log(levelInfo, "INFO", msg, kv) }
func (l *StdLogger) Warn(msg string, kv ...interface{})  { l.log(levelWarn, "WARN", msg, kv) }
func (l *StdLogger) Error(msg string, kv ...interface{}) { l.log(levelError, "ERROR", msg, kv) }
func (l *StdLogger) Debug(msg string, kv ...interface{}) { l.log(levelDebug, "DEBUG", msg, kv) }

// WithFields returns a new logger with the combined persistent fields.
func (l *StdLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StdLogger{
		fields:   merged,
		minLevel: l.minLevel,
		json:     l.json,
		out:      l.out,
	}
}

func (l *StdLogger) log(level int, name, msg string, kv []interface{}) {
	if level < l.minLevel {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(kv)/2+3)
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	entry["level"] = name
	entry["message"] = msg
	for k, v := range l.fields {
		entry[k] = v
	}

	// Alternating key-value pairs; errors are flattened to their message.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, ok := kv[i+1].(error); ok && err != nil {
			entry[key] = err.Error()
			continue
		}
		entry[key] = kv[i+1]
	}

	if l.json {
		l.writeJSON(entry)
		return
	}
	l.writeText(entry)
}

func (l *StdLogger) writeJSON(entry map[string]interface{}) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.out.Printf("failed to marshal log entry: %v", err)
		return
	}
	l.out.Println(string(data))
}

func (l *StdLogger) writeText(entry map[string]interface{}) {
	timestamp := entry["timestamp"]
	level := entry["level"]
	message := entry["message"]
	delete(entry, "timestamp")
	delete(entry, "level")
	delete(entry, "message")

	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	line := fmt.Sprintf("%s [%s] %s", timestamp, level, message)
	if len(keys) > 0 {
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, entry[k]))
		}
		line += " | " + strings.Join(pairs, " ")
	}
	l.out.Println(line)
}
