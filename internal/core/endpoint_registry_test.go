package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/halvard/relay/internal/endpoint"
)

func TestEndpointRegister(t *testing.T) {
	db := new(mockDB)
	ec := new(mockEndpointClient)
	svc := NewEndpointService(db, ec)

	ec.On("Ping", mock.Anything, "https://app.example.com/api/trigger").Return(nil)
	db.On("QueryRow", mock.Anything, sqlContains("INSERT INTO endpoints"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*dest[0].(*string) = "ep-1"
			*dest[1].(*time.Time) = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			*dest[2].(*time.Time) = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			return nil
		}})

	ep, err := svc.Register(context.Background(), "env-1", "my-app", "https://app.example.com/api/trigger")
	require.NoError(t, err)
	assert.Equal(t, "ep-1", ep.ID)
	assert.Equal(t, "my-app", ep.Slug)
	ec.AssertExpectations(t)
}

func TestEndpointRegisterUnreachable(t *testing.T) {
	db := new(mockDB)
	ec := new(mockEndpointClient)
	svc := NewEndpointService(db, ec)

	ec.On("Ping", mock.Anything, mock.Anything).
		Return(&endpoint.TransportError{URL: "https://down.example.com", StatusCode: 502})

	_, err := svc.Register(context.Background(), "env-1", "my-app", "https://down.example.com")
	require.Error(t, err)
	assert.True(t, endpoint.IsTransport(err))
	db.AssertNotCalled(t, "QueryRow", mock.Anything, mock.Anything, mock.Anything)
}
