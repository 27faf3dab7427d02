// Package runlog keeps an append-only JSON-lines journal per command invocation.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Kind names the journal file.
type Kind string

const (
	Startup  Kind = "startup"
	Shutdown Kind = "shutdown"
)

// Log writes events of a single run. Every entry carries the run id.
type Log struct {
	logger *zap.Logger
	file   *os.File
	path   string
	runID  string
}

// Open appends to <stateDir>/logs/<kind>.log.
func Open(stateDir string, kind Kind) (*Log, error) {
	dir := filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, string(kind)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "event"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.DebugLevel)

	runID := uuid.NewString()
	return &Log{
		logger: zap.New(core).With(zap.String("run_id", runID), zap.String("kind", string(kind))),
		file:   f,
		path:   path,
		runID:  runID,
	}, nil
}

// Discard returns a log that drops everything.
func Discard() *Log {
	return &Log{logger: zap.NewNop(), runID: uuid.NewString()}
}

// RunID identifies this invocation in the journal.
func (l *Log) RunID() string { return l.runID }

// Path is the journal file, empty for Discard.
func (l *Log) Path() string { return l.path }

// Event records a named event.
func (l *Log) Event(name string, fields ...zap.Field) {
	l.logger.Info(name, fields...)
}

// Phase records the end of a phase with its duration and error, if any.
func (l *Log) Phase(phase string, took time.Duration, err error) {
	fields := []zap.Field{zap.String("phase", phase), zap.Duration("took", took)}
	if err != nil {
		l.logger.Error("phase_failed", append(fields, zap.Error(err))...)
		return
	}
	l.logger.Info("phase_done", fields...)
}

// Close flushes and closes the journal.
func (l *Log) Close() error {
	_ = l.logger.Sync()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
