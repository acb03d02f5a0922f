// Package mocks provides test doubles for the radar client.
package mocks

import (
	"context"
	"encoding/json"

	mock "github.com/stretchr/testify/mock"

	radar "github.com/sells-group/mailhaus/pkg/radar"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Count provides a mock function with given fields: ctx, criteria
func (_m *MockClient) Count(ctx context.Context, criteria json.RawMessage) (int, error) {
	ret := _m.Called(ctx, criteria)

	if len(ret) == 0 {
		panic("no return value specified for Count")
	}

	var r0 int
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, json.RawMessage) (int, error)); ok {
		return rf(ctx, criteria)
	}
	if rf, ok := ret.Get(0).(func(context.Context, json.RawMessage) int); ok {
		r0 = rf(ctx, criteria)
	} else {
		r0 = ret.Get(0).(int)
	}

	if rf, ok := ret.Get(1).(func(context.Context, json.RawMessage) error); ok {
		r1 = rf(ctx, criteria)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Properties provides a mock function with given fields: ctx, criteria, start, limit
func (_m *MockClient) Properties(ctx context.Context, criteria json.RawMessage, start int, limit int) (*radar.PropertiesResponse, error) {
	ret := _m.Called(ctx, criteria, start, limit)

	if len(ret) == 0 {
		panic("no return value specified for Properties")
	}

	var r0 *radar.PropertiesResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, json.RawMessage, int, int) (*radar.PropertiesResponse, error)); ok {
		return rf(ctx, criteria, start, limit)
	}
	if rf, ok := ret.Get(0).(func(context.Context, json.RawMessage, int, int) *radar.PropertiesResponse); ok {
		r0 = rf(ctx, criteria, start, limit)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*radar.PropertiesResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, json.RawMessage, int, int) error); ok {
		r1 = rf(ctx, criteria, start, limit)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ radar.Client = (*MockClient)(nil)
