package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/brettbedarf/vylfs"
)

// MockFilesystem implements vylfs.Filesystem for testing across packages
type MockFilesystem struct {
	mock.Mock
}

var _ vylfs.Filesystem = (*MockFilesystem)(nil)

func (m *MockFilesystem) Lookup(parent uint64, name string) (vylfs.Attr, error) {
	args := m.Called(parent, name)
	return attrArg(args, 0), args.Error(1)
}

func (m *MockFilesystem) GetAttr(id uint64) (vylfs.Attr, error) {
	args := m.Called(id)
	return attrArg(args, 0), args.Error(1)
}

func (m *MockFilesystem) ReadDir(id uint64, offset uint64) ([]vylfs.DirEntry, error) {
	args := m.Called(id, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vylfs.DirEntry), args.Error(1)
}

func (m *MockFilesystem) Create(parent uint64, name string, mode uint32) (vylfs.Attr, error) {
	args := m.Called(parent, name, mode)
	return attrArg(args, 0), args.Error(1)
}

func (m *MockFilesystem) SetAttr(id uint64, req *vylfs.SetAttrRequest) (vylfs.Attr, error) {
	args := m.Called(id, req)
	return attrArg(args, 0), args.Error(1)
}

func (m *MockFilesystem) Unlink(parent uint64, name string) error {
	return m.Called(parent, name).Error(0)
}

func (m *MockFilesystem) Read(id uint64, offset uint64, size uint32) ([]byte, error) {
	args := m.Called(id, offset, size)

	// Handle function return types (for offset-dependent tests)
	if fn, ok := args.Get(0).(func(uint64, uint64, uint32) []byte); ok {
		return fn(id, offset, size), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockFilesystem) Write(id uint64, offset uint64, data []byte) (uint32, error) {
	args := m.Called(id, offset, data)
	if args.Get(0) == nil {
		return 0, args.Error(1)
	}
	return args.Get(0).(uint32), args.Error(1)
}

func (m *MockFilesystem) Mkdir(parent uint64, name string, mode uint32) (vylfs.Attr, error) {
	args := m.Called(parent, name, mode)
	return attrArg(args, 0), args.Error(1)
}

func (m *MockFilesystem) Rmdir(parent uint64, name string) error {
	return m.Called(parent, name).Error(0)
}

func (m *MockFilesystem) Stats() vylfs.Stats {
	args := m.Called()
	return args.Get(0).(vylfs.Stats)
}

func attrArg(args mock.Arguments, i int) vylfs.Attr {
	if args.Get(i) == nil {
		return vylfs.Attr{}
	}
	return args.Get(i).(vylfs.Attr)
}
