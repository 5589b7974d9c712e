package salesforce

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// mockClient is a test double for Client.
type mockClient struct {
	queryFn     func(ctx context.Context, soql string, out any) error
	insertOneFn func(ctx context.Context, sObjectName string, record map[string]any) (string, error)
	deleteOneFn func(ctx context.Context, sObjectName string, id string) error
}

func (m *mockClient) Query(ctx context.Context, soql string, out any) error {
	if m.queryFn != nil {
		return m.queryFn(ctx, soql, out)
	}
	return nil
}

func (m *mockClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if m.insertOneFn != nil {
		return m.insertOneFn(ctx, sObjectName, record)
	}
	return "00Q000000000001", nil
}

func (m *mockClient) DeleteOne(ctx context.Context, sObjectName string, id string) error {
	if m.deleteOneFn != nil {
		return m.deleteOneFn(ctx, sObjectName, id)
	}
	return nil
}

func TestMockClientImplementsInterface(t *testing.T) {
	t.Parallel()
	var _ Client = &mockClient{}
}

func TestWithRateLimit(t *testing.T) {
	c := &sfClient{}
	WithRateLimit(5)(c)
	assert.NotNil(t, c.limiter)

	c = &sfClient{}
	WithRateLimit(0)(c)
	assert.Nil(t, c.limiter)
}

func TestConnect_RequiresClientID(t *testing.T) {
	_, err := Connect(Creds{Username: "u"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "client id is required")
}
