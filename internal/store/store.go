// Package store reads and rewrites the flat text files the job works on.
// Every write replaces the whole file through a temp file and a rename.
package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrMissing = errors.New("file does not exist")

// ReadLines returns the file's lines without line terminators. Trailing blank
// lines are dropped. A missing file yields an error wrapping ErrMissing.
func ReadLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrMissing)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

// ReadOptional is ReadLines with a missing file treated as empty.
func ReadOptional(path string) ([]string, error) {
	lines, err := ReadLines(path)
	if errors.Is(err, ErrMissing) {
		return nil, nil
	}
	return lines, err
}

func ReadText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, ErrMissing)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(raw), nil
}

// ModTime returns the zero time when the file is missing.
func ModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// JoinLines renders lines one per row with a trailing newline; empty input renders as "".
func JoinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func WriteLines(path string, lines []string) error {
	return WriteText(path, JoinLines(lines))
}

func WriteText(path string, content string) error {
	tx := Begin()
	if err := tx.Stage(path, content); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// writeTemp writes content next to path so the final rename stays on one filesystem.
func writeTemp(path string, content string) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmpFile.Name()

	w := bufio.NewWriter(tmpFile)
	if _, err := w.WriteString(content); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := w.Flush(); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := tmpFile.Chmod(0644); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}
