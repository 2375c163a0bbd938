package push

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	args := m.Called(ctx, tokens, title, body, data)
	return args.Error(0)
}
