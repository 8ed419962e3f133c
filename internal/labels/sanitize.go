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

// Package labels converts Docker Swarm label keys into Prometheus-compatible
// target label names. Swarm labels are conventionally dotted
// (e.g. "com.docker.stack.namespace"); Prometheus label names must match
// [a-zA-Z_][a-zA-Z0-9_]*, so every offending rune is replaced by '_' and a
// namespacing prefix keeps service-level and container-level keys apart.
package labels

import (
	"strings"

	"github.com/prometheus/common/model"
)

// Prefixes applied to sanitized label keys depending on where the original
// label was declared on the Swarm service.
const (
	ServicePrefix   = "service_label"
	ContainerPrefix = "container_label"
)

// Sanitize returns a new map whose keys are prefix + "_" + the sanitized
// original key. Two distinct original keys can collide after sanitization
// (e.g. "a.b" and "a_b"); the survivor is unspecified (map iteration order),
// which is a known limitation rather than an error.
func Sanitize(prefix string, originalLabels map[string]string) map[string]string {
	if len(originalLabels) == 0 {
		return map[string]string{}
	}

	dst := make(map[string]string, len(originalLabels))
	for key, value := range originalLabels {
		dst[prefix+"_"+SanitizeName(key)] = value
	}

	return dst
}

// SanitizeName replaces every rune outside [A-Za-z0-9_] with '_' and ensures
// the result is a valid Prometheus label name by prefixing '_' if necessary.
func SanitizeName(labelName string) string {
	if labelName == "" {
		return "_"
	}

	var builder strings.Builder
	builder.Grow(len(labelName))

	for _, runeVal := range labelName {
		if runeVal == '_' || isASCIILetter(runeVal) || isASCIIDigit(runeVal) {
			builder.WriteRune(runeVal)
		} else {
			builder.WriteByte('_')
		}
	}

	out := builder.String()
	if !model.LabelName(out).IsValid() {
		out = "_" + out
	}

	return out
}

// Valid reports whether a label name satisfies the Prometheus constraints.
// It delegates to the same model package Prometheus itself uses.
func Valid(labelName string) bool {
	return model.LabelName(labelName).IsValid()
}

// isASCIILetter restricts letters to ASCII: Prometheus label names do not
// admit Unicode letters, unlike unicode.IsLetter.
func isASCIILetter(runeVal rune) bool {
	return (runeVal >= 'a' && runeVal <= 'z') || (runeVal >= 'A' && runeVal <= 'Z')
}

func isASCIIDigit(runeVal rune) bool {
	return runeVal >= '0' && runeVal <= '9'
}
