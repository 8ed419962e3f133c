/*
 * MIT License
 *
 * Copyright (c) 2025 James McDonald
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package output writes discovery results to the scrape-target file consumed
// by Prometheus file-based service discovery.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamesmcdonald/prometheus-swarmer/internal/discovery"
)

const targetFileMode = 0o644

// Writer replaces a file_sd target file wholesale on every Write call.
type Writer struct {
	path string
}

// NewWriter returns a Writer for the given target file path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Write serializes the endpoints as a JSON array and replaces the target
// file atomically: the content goes to a temp file in the destination
// directory, is synced, and is renamed over the target. A half-written file
// is therefore never visible to the scraper. A nil slice is written as [].
func (w *Writer) Write(endpoints []discovery.Endpoint) error {
	if endpoints == nil {
		endpoints = []discovery.Endpoint{}
	}

	data, err := json.Marshal(endpoints)
	if err != nil {
		return fmt.Errorf("marshal endpoints: %w", err)
	}

	directory := filepath.Dir(w.path)

	tempFile, err := os.CreateTemp(directory, filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp target file: %w", err)
	}

	tempName := tempFile.Name()

	if err := writeAndClose(tempFile, data); err != nil {
		_ = os.Remove(tempName)

		return err
	}

	if err := os.Chmod(tempName, targetFileMode); err != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("chmod temp target file: %w", err)
	}

	if err := os.Rename(tempName, w.path); err != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("rename target file: %w", err)
	}

	return nil
}

func writeAndClose(file *os.File, data []byte) error {
	if _, err := file.Write(data); err != nil {
		_ = file.Close()

		return fmt.Errorf("write target file: %w", err)
	}

	if err := file.Sync(); err != nil {
		_ = file.Close()

		return fmt.Errorf("sync target file: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("close target file: %w", err)
	}

	return nil
}
