package session

import "strconv"

// ControlFrame is the outbound JSON control message shape sent over the
// text-frame side of the WebSocket. Message is required when Type is
// "Error"; Code and Details are optional elaboration.
type ControlFrame struct {
	Type    ControlFrameType `json:"type"`
	Message string           `json:"message,omitempty"`
	Code    string           `json:"code,omitempty"`
	Details string           `json:"details,omitempty"`
}

// ControlFrameType enumerates the recognized outbound control-frame types.
type ControlFrameType string

const (
	ControlStartStream ControlFrameType = "StartStream"
	ControlCloseStream ControlFrameType = "CloseStream"
	ControlKeepAlive   ControlFrameType = "KeepAlive"
	ControlError       ControlFrameType = "Error"
	// ControlFinalize asks the server to flush the current utterance
	// immediately. Additive relative to the four base types; used by
	// PooledSession.Finalize.
	ControlFinalize ControlFrameType = "Finalize"
)

// Word is a single recognized word within a transcript alternative.
type Word struct {
	Word           string  `json:"word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	PunctuatedWord string  `json:"punctuated_word,omitempty"`
}

// OpenEnded reports whether w.End is the "-1 means open-ended" sentinel,
// which bypasses the end >= start invariant.
func (w Word) OpenEnded() bool {
	return w.End == -1
}

// Alternative is one candidate transcription of a channel's audio.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words"`
}

// Channel carries the alternatives Deepgram produced for one audio channel.
type Channel struct {
	Alternatives []Alternative `json:"alternatives"`
}

// ModelInfo describes the acoustic/language model that produced a result.
type ModelInfo struct {
	Name string `json:"name"`
	Ver  string `json:"version"`
	Arch string `json:"arch"`
}

// Metadata carries request/model identification for a transcript event.
type Metadata struct {
	RequestID string    `json:"request_id"`
	ModelInfo ModelInfo `json:"model_info"`
	ModelUUID string    `json:"model_uuid"`
}

// TranscriptResponse is the inbound JSON transcript event decoded from a
// text frame. Unknown fields are tolerated by json.Unmarshal's default
// behavior (extra keys are simply ignored).
type TranscriptResponse struct {
	Type         string   `json:"type"`
	ChannelIndex []int    `json:"channel_index"`
	Start        float64  `json:"start"`
	Duration     float64  `json:"duration"`
	IsFinal      bool     `json:"is_final"`
	SpeechFinal  bool     `json:"speech_final"`
	FromFinalize bool     `json:"from_finalize"`
	Channel      Channel  `json:"channel"`
	Metadata     Metadata `json:"metadata"`
}

// HasAlternative reports whether r carries at least one transcription
// alternative for its channel.
func (r *TranscriptResponse) HasAlternative() bool {
	return len(r.Channel.Alternatives) > 0
}

// TranscriptMessage is the caller-facing event synthesized from a
// TranscriptResponse that has at least one alternative.
type TranscriptMessage struct {
	Transcript   string
	Confidence   float64
	ChannelIndex string
	Start        float64
	Duration     float64
	Words        []Word
	IsFinal      bool
}

// ToMessage synthesizes a TranscriptMessage from r. It returns nil if r has
// no channel or an empty alternatives list.
func (r *TranscriptResponse) ToMessage() *TranscriptMessage {
	if !r.HasAlternative() {
		return nil
	}
	alt := r.Channel.Alternatives[0]

	idx := "default"
	if len(r.ChannelIndex) > 0 {
		idx = formatChannelIndex(r.ChannelIndex[0])
	}

	return &TranscriptMessage{
		Transcript:   alt.Transcript,
		Confidence:   alt.Confidence,
		ChannelIndex: idx,
		Start:        r.Start,
		Duration:     r.Duration,
		Words:        alt.Words,
		IsFinal:      r.IsFinal,
	}
}

func formatChannelIndex(n int) string {
	return strconv.Itoa(n)
}
