// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	DEBUG Level = "DEBUG"
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
)

var levelRank = map[Level]int{DEBUG: 0, INFO: 1, WARN: 2, ERROR: 3}

// Logger writes structured JSON entries to stdout, one per line.
type Logger struct {
	Component string
	min       int
}

// Entry is the wire shape of a single log line.
type Entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	UserID    string                 `json:"user_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the given component. The minimum level is
// taken from PARLO_LOG_LEVEL (default INFO).
func New(component string) *Logger {
	min, ok := levelRank[Level(strings.ToUpper(os.Getenv("PARLO_LOG_LEVEL")))]
	if !ok {
		min = levelRank[INFO]
	}
	return &Logger{Component: component, min: min}
}

func (l *Logger) emit(level Level, userID, requestID, message string, fields map[string]interface{}) {
	if levelRank[level] < l.min {
		return
	}
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Component: l.Component,
		UserID:    userID,
		RequestID: requestID,
		Message:   message,
		Fields:    fields,
	}
	b, err := json.Marshal(entry)
	if err != nil {
		log.Printf("ERROR: failed to marshal log entry: %v", err)
		return
	}
	log.Println(string(b))
}

// Debug logs a debug message scoped to a user.
func (l *Logger) Debug(userID, message string, fields map[string]interface{}) {
	l.emit(DEBUG, userID, "", message, fields)
}

// Info logs an informational message scoped to a user.
func (l *Logger) Info(userID, message string, fields map[string]interface{}) {
	l.emit(INFO, userID, "", message, fields)
}

// Warn logs a warning scoped to a user.
func (l *Logger) Warn(userID, message string, fields map[string]interface{}) {
	l.emit(WARN, userID, "", message, fields)
}

// Error logs an error scoped to a user. The error, if non-nil, is added
// to the fields under "error".
func (l *Logger) Error(userID, message string, err error, fields map[string]interface{}) {
	if err != nil {
		if fields == nil {
			fields = make(map[string]interface{})
		}
		fields["error"] = err.Error()
	}
	l.emit(ERROR, userID, "", message, fields)
}

// Request logs a message carrying a request id, used by HTTP middleware.
func (l *Logger) Request(level Level, userID, requestID, message string, fields map[string]interface{}) {
	l.emit(level, userID, requestID, message, fields)
}
