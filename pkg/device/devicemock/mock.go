package devicemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/gridhabit/gridhabit/pkg/device"
	"github.com/gridhabit/gridhabit/pkg/types"
)

type MockCommander struct {
	mock.Mock
}

var _ device.Commander = (*MockCommander)(nil)

func (m *MockCommander) ExecuteAction(ctx context.Context, vendor, deviceID, action string) error {
	args := m.Called(ctx, vendor, deviceID, action)
	return args.Error(0)
}

type MockAssistant struct {
	mock.Mock
}

var _ device.Assistant = (*MockAssistant)(nil)

func (m *MockAssistant) ExecuteByName(ctx context.Context, command string) (string, error) {
	args := m.Called(ctx, command)
	return args.String(0), args.Error(1)
}

type MockMetadata struct {
	mock.Mock
}

var _ device.Metadata = (*MockMetadata)(nil)

func (m *MockMetadata) GetEssential(ctx context.Context, vendor, deviceID string) (types.DeviceMeta, error) {
	args := m.Called(ctx, vendor, deviceID)
	return args.Get(0).(types.DeviceMeta), args.Error(1)
}
