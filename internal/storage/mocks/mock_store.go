// Package mocks provides a mock TaskStore for testing.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
)

// MockStore is a mock implementation of the TaskStore interface
type MockStore struct {
	mock.Mock
}

// Save mocks the Save method
func (m *MockStore) Save(ctx context.Context, tasks map[string]*domain.Task) error {
	args := m.Called(ctx, tasks)
	return args.Error(0)
}

// Load mocks the Load method
func (m *MockStore) Load(ctx context.Context) (map[string]*domain.Task, error) {
	args := m.Called(ctx)
	if tasks, ok := args.Get(0).(map[string]*domain.Task); ok {
		return tasks, args.Error(1)
	}
	return nil, args.Error(1)
}
