package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonCameraCapture ReasonCode = "camera_capture"
	ReasonCameraTimeout ReasonCode = "camera_timeout"

	ReasonASRConnect ReasonCode = "asr_connect"
	ReasonASRStream  ReasonCode = "asr_stream"

	ReasonTTSConnect  ReasonCode = "tts_connect"
	ReasonTTSPlayback ReasonCode = "tts_playback"

	ReasonAIGenerate  ReasonCode = "ai_generate"
	ReasonAITimeout   ReasonCode = "ai_timeout"
	ReasonAIRateLimit ReasonCode = "ai_rate_limit"

	ReasonToolUnknown ReasonCode = "tool_unknown"
	ReasonToolTimeout ReasonCode = "tool_timeout"
	ReasonToolExec    ReasonCode = "tool_exec"

	ReasonStoreWrite ReasonCode = "store_write"
	ReasonStoreRead  ReasonCode = "store_read"

	ReasonBridgePush ReasonCode = "bridge_push"
)
