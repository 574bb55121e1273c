package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/brettbedarf/vylfs/metrics"
)

// MockRecorder implements metrics.Recorder for testing across packages
type MockRecorder struct {
	mock.Mock
}

var _ metrics.Recorder = (*MockRecorder)(nil)

func (m *MockRecorder) RecordRequest(op string, duration time.Duration, status string) {
	m.Called(op, duration, status)
}

func (m *MockRecorder) RecordBytes(direction string, n int) {
	m.Called(direction, n)
}

func (m *MockRecorder) SetKernelRefs(n int) {
	m.Called(n)
}
