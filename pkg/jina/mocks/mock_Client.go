// Package mocks provides test doubles for the jina client.
package mocks

import (
	"context"

	jina "github.com/sells-group/renovation-report/pkg/jina"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Read provides a mock function with given fields: ctx, targetURL, opts
func (_m *MockClient) Read(ctx context.Context, targetURL string, opts ...jina.ReadOption) (*jina.ReadResponse, error) {
	_va := make([]interface{}, len(opts))
	for _i := range opts {
		_va[_i] = opts[_i]
	}
	var _ca []interface{}
	_ca = append(_ca, ctx, targetURL)
	_ca = append(_ca, _va...)
	ret := _m.Called(_ca...)

	if len(ret) == 0 {
		panic("no return value specified for Read")
	}

	var r0 *jina.ReadResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*jina.ReadResponse)
	}
	return r0, ret.Error(1)
}

// Search provides a mock function with given fields: ctx, query, opts
func (_m *MockClient) Search(ctx context.Context, query string, opts ...jina.SearchOption) (*jina.SearchResponse, error) {
	_va := make([]interface{}, len(opts))
	for _i := range opts {
		_va[_i] = opts[_i]
	}
	var _ca []interface{}
	_ca = append(_ca, ctx, query)
	_ca = append(_ca, _va...)
	ret := _m.Called(_ca...)

	if len(ret) == 0 {
		panic("no return value specified for Search")
	}

	var r0 *jina.SearchResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*jina.SearchResponse)
	}
	return r0, ret.Error(1)
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
