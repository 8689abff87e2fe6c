package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Record(ctx context.Context, e Event) {
	m.Called(ctx, e)
}

func TestLogUsesSink(t *testing.T) {
	s := &mockSink{}
	SetSink(s)
	t.Cleanup(func() { SetSink(NewZerologSink(zerolog.Nop())) })

	s.On("Record", mock.Anything, mock.MatchedBy(func(e Event) bool {
		return e.Action == ActionClientRegister && e.Target == "client-1" && e.Success && e.Error == ""
	})).Once()

	Log(context.Background(), "clients", ActionClientRegister, "admin", "client-1", "", true, nil)
	s.AssertExpectations(t)
}

func TestZerologSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewZerologSink(zerolog.New(&buf))

	sink.Record(context.Background(), Event{
		Service: "2fa",
		Action:  ActionTwoFactorLockout,
		User:    "u1",
		Success: false,
		Error:   errors.New("locked").Error(),
	})

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "audit", got["type"])
	assert.Equal(t, ActionTwoFactorLockout, got["action"])
	assert.Equal(t, "u1", got["user"])
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "locked", got["error"])
	assert.NotContains(t, got, "target")
}
