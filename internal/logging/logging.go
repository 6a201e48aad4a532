/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logging is the levelled logger shared by the region manager packages.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/valyala/bytebufferpool"
)

const (
	LevelTrace = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

// EnvLogLevel overrides the default level at start-up.
const EnvLogLevel = "SHMREGION_LOG_LEVEL"

const (
	fieldName     = "logger"
	fieldLocation = "loc"
)

var (
	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors    = []string{magenta, green, blue, yellow, red}
	levelName = []string{"Trace", "Debug", "Info", "Warn", "Error"}

	logrusLevels = []logrus.Level{
		logrus.TraceLevel,
		logrus.DebugLevel,
		logrus.InfoLevel,
		logrus.WarnLevel,
		logrus.ErrorLevel,
	}

	mu    sync.RWMutex
	level = LevelWarn
	base  = logrus.New()
)

func init() {
	base.SetOutput(os.Stdout)
	base.SetFormatter(formatter{})
	// filtering happens in Logger, logrus passes everything through
	base.SetLevel(logrus.TraceLevel)

	if v := os.Getenv(EnvLogLevel); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			SetLogLevel(n)
		}
	}
}

// SetLogLevel changes the level of every logger. The default level is Warn.
// Values above LevelNoPrint are ignored.
func SetLogLevel(l int) {
	if l < LevelTrace || l > LevelNoPrint {
		return
	}
	mu.Lock()
	level = l
	mu.Unlock()
}

// LogLevel returns the current level.
func LogLevel() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// SetOutput redirects every logger to out. A nil writer restores stdout.
func SetOutput(out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	base.SetOutput(out)
}

// Base exposes the underlying logrus logger for structured entries.
func Base() *logrus.Logger {
	return base
}

type Logger struct {
	entry     *logrus.Entry
	callDepth int
}

// New returns a logger whose lines carry name after the location.
func New(name string) *Logger {
	return &Logger{
		entry:     base.WithField(fieldName, name),
		callDepth: 3,
	}
}

func (l *Logger) Errorf(format string, a ...interface{}) { l.logf(LevelError, format, a...) }
func (l *Logger) Warnf(format string, a ...interface{})  { l.logf(LevelWarn, format, a...) }
func (l *Logger) Infof(format string, a ...interface{})  { l.logf(LevelInfo, format, a...) }
func (l *Logger) Debugf(format string, a ...interface{}) { l.logf(LevelDebug, format, a...) }
func (l *Logger) Tracef(format string, a ...interface{}) { l.logf(LevelTrace, format, a...) }

func (l *Logger) logf(lv int, format string, a ...interface{}) {
	if LogLevel() > lv {
		return
	}
	l.entry.WithField(fieldLocation, l.location()).Logf(logrusLevels[lv], format, a...)
}

func (l *Logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth)
	if !ok {
		file = "???"
		line = 0
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// formatter renders "<color>Level time location name message<reset>".
type formatter struct{}

func (formatter) Format(e *logrus.Entry) ([]byte, error) {
	lv := levelIndex(e.Level)
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = buf.WriteString(colors[lv])
	_, _ = buf.WriteString(levelName[lv])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(e.Time.Format("2006-01-02 15:04:05.999999"))
	if loc, ok := e.Data[fieldLocation].(string); ok {
		_ = buf.WriteByte(' ')
		_, _ = buf.WriteString(loc)
	}
	if name, ok := e.Data[fieldName].(string); ok && name != "" {
		_ = buf.WriteByte(' ')
		_, _ = buf.WriteString(name)
	}
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if k != fieldLocation && k != fieldName {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		_ = buf.WriteByte(' ')
		_, _ = buf.WriteString(k)
		_ = buf.WriteByte('=')
		_, _ = buf.WriteString(stringify(e.Data[k]))
	}
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(e.Message)
	_, _ = buf.WriteString(reset)
	_ = buf.WriteByte('\n')

	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

func levelIndex(l logrus.Level) int {
	switch l {
	case logrus.TraceLevel:
		return LevelTrace
	case logrus.DebugLevel:
		return LevelDebug
	case logrus.InfoLevel:
		return LevelInfo
	case logrus.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
