package observ

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// LogConfig controls where event lines are written.
type LogConfig struct {
	File       string `yaml:"file"`        // empty = stdout only
	MaxSizeMB  int    `yaml:"max_size_mb"` // rotate after this size
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Quiet      bool   `yaml:"quiet"` // drop stdout tee when a file is set
}

// SetOutput redirects event lines. Passing nil restores stdout.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	out = w
}

// SetupLogging wires a rotating file writer when cfg.File is set and returns
// a closer for it. Without a file the output stays on stdout.
func SetupLogging(cfg LogConfig) (io.Closer, error) {
	if cfg.File == "" {
		SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 28
	}

	fileLogger := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	if cfg.Quiet {
		SetOutput(fileLogger)
	} else {
		SetOutput(io.MultiWriter(os.Stdout, fileLogger))
	}
	return fileLogger, nil
}

func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)

	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintln(out, string(b))
}
