// Package mocks provides mock implementations of the observability
// interfaces for testing.
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/observability"
)

// MockLogger is a mock implementation of the Logger interface
type MockLogger struct {
	mock.Mock
}

// Info mocks the Info method
func (m *MockLogger) Info(msg string, kv ...interface{}) {
	m.Called(msg, kv)
}

// Warn mocks the Warn method
func (m *MockLogger) Warn(msg string, kv ...interface{}) {
	m.Called(msg, kv)
}

// Error mocks the Error method
func (m *MockLogger) Error(msg string, kv ...interface{}) {
	m.Called(msg, kv)
}

// Debug mocks the Debug method
func (m *MockLogger) Debug(msg string, kv ...interface{}) {
	m.Called(msg, kv)
}

// WithFields mocks the WithFields method
func (m *MockLogger) WithFields(fields map[string]interface{}) observability.Logger {
	args := m.Called(fields)
	if logger, ok := args.Get(0).(observability.Logger); ok {
		return logger
	}
	return m
}
