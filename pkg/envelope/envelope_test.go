package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextString(t *testing.T) {
	assert.Equal(t, "on_client", OnClient.String())
	assert.Equal(t, "on_session", OnSession.String())
	assert.Equal(t, "unknown", Context(42).String())
}

func TestSuccessReply(t *testing.T) {
	id := uuid.NewString()
	arrived := time.Now().Add(-time.Millisecond)

	reply := Success(id, MessagePong, arrived, nil)

	frame, err := Encode(reply)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame, &decoded))
	assert.Equal(t, id, decoded["transaction_id"])
	assert.Equal(t, "ack", decoded["action"])
	assert.Equal(t, "success", decoded["status"])
	assert.Equal(t, "pong", decoded["message"])
	assert.Equal(t, map[string]any{}, decoded["data"])
	assert.Greater(t, reply.Runtime, int64(0))
	assert.Equal(t, arrived.UnixNano(), reply.Timestamp)
}

func TestFailureReply(t *testing.T) {
	t.Run("echoes_valid_transaction_id", func(t *testing.T) {
		id := uuid.NewString()
		reply := Failure(id, MessageUnprocessable, time.Now(), map[string]string{"params": "params channel attribute must be present"})

		assert.True(t, reply.Failed())
		assert.Equal(t, id, reply.ID())
		assert.Equal(t, "params channel attribute must be present", reply.Data["params"])
	})

	t.Run("renders_missing_transaction_id_as_null", func(t *testing.T) {
		reply := Failure("", MessageUnprocessable, time.Now(), map[string]string{"action": "action attribute must be present"})

		frame, err := Encode(reply)
		require.NoError(t, err)
		assert.Contains(t, string(frame), `"transaction_id":null`)
	})

	t.Run("renders_nil_uuid_as_null", func(t *testing.T) {
		reply := Failure(uuid.Nil.String(), MessageUnprocessable, time.Now(), nil)
		assert.Nil(t, reply.TransactionID)
		assert.Equal(t, "", reply.ID())
	})
}

func TestWelcome(t *testing.T) {
	clientID := uuid.NewString()
	reply := Welcome(clientID, time.Now())

	frame, err := Encode(reply)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame, &decoded))
	assert.Equal(t, "welcome", decoded["action"])
	assert.Equal(t, "success", decoded["status"])
	assert.Equal(t, "accepted", decoded["message"])
	assert.Equal(t, clientID, decoded["data"].(map[string]any)["client_id"])
	_, err = uuid.Parse(decoded["transaction_id"].(string))
	assert.NoError(t, err)
}

func TestUnprocessable(t *testing.T) {
	frame, err := Encode(Unprocessable(time.Now()))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame, &decoded))
	assert.Nil(t, decoded["transaction_id"])
	assert.NotContains(t, decoded, "action")
	assert.Equal(t, "failed", decoded["status"])
	assert.Equal(t, "unprocessable entity", decoded["message"])
	assert.Equal(t, "body must be json object", decoded["data"].(map[string]any)["body"])
}

func TestPushHasNoStatus(t *testing.T) {
	push := NewPush(uuid.NewString(), ActionPublish, map[string]any{"channel": "news"})

	frame, err := Encode(push)
	require.NoError(t, err)
	assert.NotContains(t, string(frame), "status")
	assert.Contains(t, string(frame), `"action":"publish"`)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		ok    bool
	}{
		{"object", `{"action":"ping"}`, true},
		{"array", `[1,2,3]`, false},
		{"string", `"ping"`, false},
		{"null", `null`, false},
		{"garbage", `{"action":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Decode([]byte(tt.frame))
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, "ok", StatusMessage(true))
	assert.Equal(t, "no effect", StatusMessage(false))
}
