package audio

// #region config

// CaptureConfig describes the capture stream feeding the ring buffer.
type CaptureConfig struct {
	SampleRate     uint32 `yaml:"sample_rate"`
	Channels       uint32 `yaml:"channels"`
	SegmentSeconds int    `yaml:"segment_seconds"`
}

// DefaultCaptureConfig returns 16 kHz mono with ten-second segments.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:     16000,
		Channels:       1,
		SegmentSeconds: 10,
	}
}

// SegmentSize is the number of samples in one classifier segment.
func (c CaptureConfig) SegmentSize() int {
	return int(c.SampleRate) * c.SegmentSeconds
}

// #endregion config

// #region interfaces

// Sink receives captured samples. Implementations must return quickly.
type Sink interface {
	Append(samples []float32)
}

// Source is a running sample producer.
type Source interface {
	Start() error
	Stop() error
	Close() error
}

// #endregion interfaces
