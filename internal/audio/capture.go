package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// #region capture-struct

// Capture streams the default input device into a Sink through a miniaudio callback.
type Capture struct {
	cfg  CaptureConfig
	sink Sink

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	scratch []float32 // reused by the device callback, never shared
}

// NewCapture initializes the audio backend and the capture device without starting it.
func NewCapture(cfg CaptureConfig, sink Sink) (*Capture, error) {
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	c := &Capture{cfg: cfg, sink: sink}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = cfg.Channels
	devCfg.SampleRate = cfg.SampleRate
	devCfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{Data: c.onFrames})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}

	c.ctx = mctx
	c.device = device
	return c, nil
}

// #endregion capture-struct

// #region callback

// onFrames keeps channel 0 of the interleaved f32 input and appends it to the sink.
func (c *Capture) onFrames(_, input []byte, frameCount uint32) {
	if frameCount == 0 {
		return
	}
	n := int(frameCount)
	if cap(c.scratch) < n {
		c.scratch = make([]float32, n)
	}
	samples := c.scratch[:n]
	stride := int(c.cfg.Channels) * 4
	for i := range samples {
		off := i * stride
		if off+4 > len(input) {
			samples = samples[:i]
			break
		}
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[off:]))
	}
	c.sink.Append(samples)
}

// #endregion callback

// #region lifecycle

// Start begins delivering frames.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("start capture: device closed")
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	return nil
}

// Stop halts frame delivery. The device can be restarted.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("stop capture: %w", err)
	}
	return nil
}

// Close releases the device and the backend context.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	if c.ctx != nil {
		err := c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
		if err != nil {
			return fmt.Errorf("close audio context: %w", err)
		}
	}
	return nil
}

// #endregion lifecycle
