// Size-based log file rotation
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const rotationStamp = "20060102-150405"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	Filename string

	// MaxSize is the size in megabytes that triggers a rotation (default 10).
	MaxSize int

	// MaxBackups is how many rotated files are kept (default 5).
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// RotatingFileWriter is an io.Writer that moves the file aside once it
// grows past MaxSize.
type RotatingFileWriter struct {
	mu         sync.Mutex
	filename   string
	maxSize    int64
	maxBackups int
	compress   bool
	size       int64
	file       *os.File
	now        func() time.Time
}

// NewRotatingFileWriter opens (or creates) the log file in append mode.
func NewRotatingFileWriter(cfg RotationConfig) (*RotatingFileWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log filename is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}

	w := &RotatingFileWriter{
		filename:   cfg.Filename,
		maxSize:    int64(cfg.MaxSize) << 20,
		maxBackups: cfg.MaxBackups,
		compress:   cfg.Compress,
		now:        time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.filename), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}

	ext := filepath.Ext(w.filename)
	rotated := fmt.Sprintf("%s.%s%s", strings.TrimSuffix(w.filename, ext), w.now().Format(rotationStamp), ext)
	if err := os.Rename(w.filename, rotated); err != nil {
		w.open()
		return fmt.Errorf("rename log file: %w", err)
	}

	if w.compress {
		if err := gzipFile(rotated); err != nil {
			return err
		}
	}
	w.prune()
	return w.open()
}

func gzipFile(name string) error {
	src, err := os.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(name + ".gz")
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(dst)
	_, err = io.Copy(gz, src)
	if cerr := gz.Close(); err == nil {
		err = cerr
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name + ".gz")
		return fmt.Errorf("compress %s: %w", name, err)
	}
	return os.Remove(name)
}

// prune drops the oldest rotated files beyond maxBackups. Rotated names
// embed a sortable timestamp, so lexical order is age order.
func (w *RotatingFileWriter) prune() {
	dir := filepath.Dir(w.filename)
	base := filepath.Base(w.filename)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var backups []string
	for _, e := range entries {
		if isRotatedFile(e.Name(), stem, ext) {
			backups = append(backups, e.Name())
		}
	}
	sort.Strings(backups)

	for len(backups) > w.maxBackups {
		os.Remove(filepath.Join(dir, backups[0]))
		backups = backups[1:]
	}
}

// isRotatedFile matches stem.YYYYMMDD-HHMMSS.ext with an optional .gz.
func isRotatedFile(name, stem, ext string) bool {
	name = strings.TrimSuffix(name, ".gz")
	if !strings.HasPrefix(name, stem+".") || !strings.HasSuffix(name, ext) {
		return false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, stem+"."), ext)
	_, err := time.Parse(rotationStamp, stamp)
	return err == nil
}

// Close closes the underlying file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Size returns the number of bytes in the current file.
func (w *RotatingFileWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// AttachFile tees the root logger into a rotating file. Colours are
// turned off since the stream now lands on disk too.
func AttachFile(l *Logger, cfg RotationConfig) (*RotatingFileWriter, error) {
	w, err := NewRotatingFileWriter(cfg)
	if err != nil {
		return nil, err
	}
	l.out.mu.Lock()
	l.out.writer = io.MultiWriter(l.out.writer, w)
	l.out.colorize = false
	l.out.mu.Unlock()
	return w, nil
}
