package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayloadFlattensMessages(t *testing.T) {
	body := []byte(`{
		"object": "page",
		"entry": [
			{
				"id": "page-1",
				"time": 1700000000,
				"messaging": [
					{
						"sender": {"id": "user-a"},
						"recipient": {"id": "page-1"},
						"message": {"mid": "m1", "text": "hello"}
					},
					{
						"sender": {"id": "user-b"},
						"recipient": {"id": "page-1"},
						"message": {"mid": "m2", "text": "hi there"}
					}
				]
			},
			{
				"id": "page-2",
				"messaging": [
					{
						"sender": {"id": "user-c"},
						"recipient": {"id": "page-2"},
						"message": {"mid": "m3", "text": "yo"}
					}
				]
			}
		]
	}`)

	messages, err := ParsePayload(body)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	assert.Equal(t, "page-1", messages[0].PageID)
	assert.Equal(t, "user-a", messages[0].SenderID)
	assert.Equal(t, "m1", messages[0].ExternalMessageID)
	assert.Equal(t, "hello", messages[0].Text)

	assert.Equal(t, "page-2", messages[2].PageID)
	assert.Equal(t, "m3", messages[2].ExternalMessageID)
}

func TestParsePayloadSkipsNonMessageEvents(t *testing.T) {
	body := []byte(`{
		"object": "page",
		"entry": [
			{
				"id": "page-1",
				"messaging": [
					{"sender": {"id": "user-a"}, "delivery": {"watermark": 170}},
					{"sender": {"id": "user-a"}, "read": {"watermark": 170}},
					{"sender": {"id": "user-a"}, "message": {"mid": "m1", "text": "real one"}}
				]
			}
		]
	}`)

	messages, err := ParsePayload(body)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].ExternalMessageID)
}

func TestParsePayloadSkipsEchoes(t *testing.T) {
	body := []byte(`{
		"object": "page",
		"entry": [
			{
				"id": "page-1",
				"messaging": [
					{"sender": {"id": "page-1"}, "message": {"mid": "m1", "text": "our own send", "is_echo": true}}
				]
			}
		]
	}`)

	messages, err := ParsePayload(body)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestParsePayloadRejectsUnknownObject(t *testing.T) {
	_, err := ParsePayload([]byte(`{"object": "user", "entry": []}`))
	assert.Error(t, err)
}

func TestParsePayloadRejectsMalformedJSON(t *testing.T) {
	_, err := ParsePayload([]byte(`{"object": "page"`))
	assert.Error(t, err)
}
