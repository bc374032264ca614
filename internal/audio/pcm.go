package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// #region pcm-encoding

// EncodePCM serializes samples as little-endian float32.
func EncodePCM(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, f := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodePCM is the inverse of EncodePCM.
func DecodePCM(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("decode pcm: length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	decodeInto(out, b)
	return out, nil
}

// decodeInto fills dst from b without allocating. len(b) must be >= 4*len(dst).
func decodeInto(dst []float32, b []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
}

// #endregion pcm-encoding
