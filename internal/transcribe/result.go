package transcribe

// Outcome is the result of a transcription call: *Transcript,
// *SegmentedTranscript or *Failure. The JSON form carries a "success" field.
type Outcome interface {
	Succeeded() bool
	outcome()
}

// Transcript is a successful whole-file transcription.
type Transcript struct {
	Success  bool      `json:"success"`
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
	// ProcessingTime is wall-clock seconds, rounded to a whole second.
	ProcessingTime float64 `json:"processing_time_seconds"`
	// AudioDuration is the end offset of the last segment, in seconds.
	AudioDuration float64 `json:"audio_duration_seconds"`
	Model         string  `json:"model_used"`
	Device        string  `json:"device_used"`
	FileSizeMB    float64 `json:"file_size_mb"`
}

// RealtimeFactor returns audio seconds processed per wall-clock second. It
// reports false when the processing time is zero.
func (t *Transcript) RealtimeFactor() (float64, bool) {
	if t.ProcessingTime <= 0 {
		return 0, false
	}
	return t.AudioDuration / t.ProcessingTime, true
}

// Window is a caller-chosen time range, in seconds.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// WindowResult is the transcription of one window.
type WindowResult struct {
	Number         int     `json:"segment_number"`
	Start          float64 `json:"start_time"`
	End            float64 `json:"end_time"`
	Duration       float64 `json:"duration"`
	Text           string  `json:"text"`
	ProcessingTime float64 `json:"processing_time_seconds"`
}

// SegmentedTranscript aggregates windowed transcription. Windows that failed
// are absent from Segments, Text and TotalProcessingTime.
type SegmentedTranscript struct {
	Success             bool           `json:"success"`
	Text                string         `json:"text"`
	Segments            []WindowResult `json:"segments"`
	TotalProcessingTime float64        `json:"total_processing_time_seconds"`
	Model               string         `json:"model_used"`
	Device              string         `json:"device_used"`
}

// Failure reports a transcription that could not be completed.
type Failure struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Error   string `json:"error"`
	Model   string `json:"model_used"`
	Device  string `json:"device_used"`
}

func (*Transcript) Succeeded() bool          { return true }
func (*SegmentedTranscript) Succeeded() bool { return true }
func (*Failure) Succeeded() bool             { return false }

func (*Transcript) outcome()          {}
func (*SegmentedTranscript) outcome() {}
func (*Failure) outcome()             {}
