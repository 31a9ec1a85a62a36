package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWord_OpenEnded(t *testing.T) {
	assert.True(t, Word{End: -1}.OpenEnded())
	assert.False(t, Word{End: 1.25}.OpenEnded())
	assert.False(t, Word{End: 0}.OpenEnded())
}

func TestControlFrame_Marshal(t *testing.T) {
	tests := []struct {
		name  string
		frame ControlFrame
		want  string
	}{
		{
			name:  "keep_alive",
			frame: ControlFrame{Type: ControlKeepAlive},
			want:  `{"type":"KeepAlive"}`,
		},
		{
			name:  "error_with_message",
			frame: ControlFrame{Type: ControlError, Message: "bad frame", Code: "invalid_argument"},
			want:  `{"type":"Error","message":"bad frame","code":"invalid_argument"}`,
		},
		{
			name:  "finalize",
			frame: ControlFrame{Type: ControlFinalize},
			want:  `{"type":"Finalize"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.frame)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}

const sampleTranscriptJSON = `{
	"type": "Results",
	"channel_index": [0, 1],
	"start": 0.0,
	"duration": 1.04,
	"is_final": true,
	"speech_final": true,
	"channel": {
		"alternatives": [
			{
				"transcript": "Hello world",
				"confidence": 0.925,
				"words": [
					{"word": "hello", "start": 0.0, "end": 0.4, "confidence": 0.99, "punctuated_word": "Hello"},
					{"word": "world", "start": 0.42, "end": 1.04, "confidence": 0.93, "punctuated_word": "world"}
				]
			}
		]
	},
	"metadata": {
		"request_id": "req-123",
		"model_info": {"name": "nova-2", "version": "2024-01-01", "arch": "nova"},
		"model_uuid": "uuid-abc"
	}
}`

func TestTranscriptResponse_Decode(t *testing.T) {
	var r TranscriptResponse
	require.NoError(t, json.Unmarshal([]byte(sampleTranscriptJSON), &r))

	assert.Equal(t, "Results", r.Type)
	assert.Equal(t, []int{0, 1}, r.ChannelIndex)
	assert.True(t, r.IsFinal)
	assert.True(t, r.SpeechFinal)
	assert.False(t, r.FromFinalize)
	assert.True(t, r.HasAlternative())
	assert.Len(t, r.Channel.Alternatives[0].Words, 2)
	assert.Equal(t, "req-123", r.Metadata.RequestID)
	assert.Equal(t, "nova-2", r.Metadata.ModelInfo.Name)
}

func TestTranscriptResponse_ToMessage(t *testing.T) {
	var r TranscriptResponse
	require.NoError(t, json.Unmarshal([]byte(sampleTranscriptJSON), &r))

	msg := r.ToMessage()
	require.NotNil(t, msg)
	assert.Equal(t, "Hello world", msg.Transcript)
	assert.Equal(t, 0.925, msg.Confidence)
	assert.Equal(t, "0", msg.ChannelIndex)
	assert.Equal(t, 1.04, msg.Duration)
	assert.True(t, msg.IsFinal)
	assert.Len(t, msg.Words, 2)
}

func TestTranscriptResponse_ToMessage_NoAlternatives(t *testing.T) {
	r := TranscriptResponse{Type: "Results"}
	assert.Nil(t, r.ToMessage())

	r2 := TranscriptResponse{Type: "Results", Channel: Channel{Alternatives: []Alternative{}}}
	assert.Nil(t, r2.ToMessage())
}

func TestTranscriptResponse_ToMessage_DefaultChannelIndex(t *testing.T) {
	r := TranscriptResponse{
		Channel: Channel{Alternatives: []Alternative{{Transcript: "hi", Confidence: 1}}},
	}
	msg := r.ToMessage()
	require.NotNil(t, msg)
	assert.Equal(t, "default", msg.ChannelIndex)
}

func TestTranscriptResponse_UnknownFieldsIgnored(t *testing.T) {
	raw := `{"type":"Results","totally_unexpected_field":true,"channel":{"alternatives":[{"transcript":"hi","confidence":1}]}}`
	var r TranscriptResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	assert.True(t, r.HasAlternative())
}
