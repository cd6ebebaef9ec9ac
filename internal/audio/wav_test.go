package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func sineWavePCM(sampleRate int, seconds float64) []byte {
	frequency := 440.0
	numSamples := int(float64(sampleRate) * seconds)
	pcm := make([]byte, numSamples*2)

	for i := 0; i < numSamples; i++ {
		ts := float64(i) / float64(sampleRate)
		sample := int16(16383.0 * math.Sin(2*math.Pi*frequency*ts))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
	}
	return pcm
}

func TestEncodeWAV(t *testing.T) {
	format := Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}
	pcm := sineWavePCM(format.SampleRate, 0.1)

	wavData, err := EncodeWAV(pcm, format)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(wavData) != 44+len(pcm) {
		t.Errorf("Expected WAV size %d, got %d", 44+len(pcm), len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	duration, err := GetWAVDuration(wavData)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}

	if math.Abs(duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.1s, got %f", duration)
	}
}

func TestEncodeWAVEmptyData(t *testing.T) {
	format := Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}

	if _, err := EncodeWAV(nil, format); err == nil {
		t.Error("Expected error for empty audio data")
	}
}

func TestEncodeWAVUnalignedData(t *testing.T) {
	format := Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}

	if _, err := EncodeWAV(make([]byte, 33), format); err == nil {
		t.Error("Expected error for unaligned PCM data")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	format := Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}
	pcm := sineWavePCM(format.SampleRate, 0.05)

	wavData, err := EncodeWAV(pcm, format)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, decodedFormat, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedFormat != format {
		t.Errorf("Expected format %+v, got %+v", format, decodedFormat)
	}

	if !bytes.Equal(decoded, pcm) {
		t.Error("Decoded PCM does not match original")
	}
}

func TestDecodeWAVInvalidData(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", make([]byte, 10)},
		{"missing RIFF", make([]byte, 44)},
		{"garbage", bytes.Repeat([]byte{0xFF}, 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected error for invalid WAV data")
			}
		})
	}
}

func TestValidateWAVRejectsShortData(t *testing.T) {
	if err := ValidateWAV(make([]byte, 20)); err == nil {
		t.Error("Expected error for short data")
	}
}
