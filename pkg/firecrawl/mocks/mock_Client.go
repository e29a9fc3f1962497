// Package mocks provides test doubles for the firecrawl client.
package mocks

import (
	"context"

	firecrawl "github.com/sells-group/renovation-report/pkg/firecrawl"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Scrape provides a mock function with given fields: ctx, req
func (_m *MockClient) Scrape(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Scrape")
	}

	var r0 *firecrawl.ScrapeResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*firecrawl.ScrapeResponse)
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
