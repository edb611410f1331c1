package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// SampleRate is the canonical rate expected by the recognition engine.
	SampleRate = 16000
	// Channels is the canonical channel count (mono).
	Channels = 1

	bitDepth      = 16
	pcmFormat     = 1
	floatFormat   = 3
	maxInt16Float = 32767.0
)

// ErrUnsupportedEncoding is returned for WAV sample encodings that cannot be decoded.
var ErrUnsupportedEncoding = errors.New("unsupported WAV sample encoding")

// Format describes how a WAV file stores its samples.
type Format struct {
	AudioFormat int
	BitDepth    int
	Channels    int
	SampleRate  int
}

// Canonical reports whether the samples are 16-bit integer PCM. Such files
// are decoded directly; anything else goes through conversion first.
func (f Format) Canonical() bool {
	return f.AudioFormat == pcmFormat && f.BitDepth == bitDepth
}

// ReadFormat parses the header of a WAV file.
func ReadFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Format{}, fmt.Errorf("audio: read header of %q: %w", path, err)
	}
	if dec.NumChans == 0 {
		return Format{}, fmt.Errorf("audio: %q has no fmt chunk", path)
	}
	return Format{
		AudioFormat: int(dec.WavAudioFormat),
		BitDepth:    int(dec.BitDepth),
		Channels:    int(dec.NumChans),
		SampleRate:  int(dec.SampleRate),
	}, nil
}

// DecodeFile reads a WAV file and returns canonical mono 16kHz float32
// samples normalized to [-1.0, 1.0]. Integer PCM of 8 to 32 bits and 32-bit
// IEEE float are supported. Multi-channel audio is averaged down to mono and
// other sample rates are linearly resampled.
func DecodeFile(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("audio: %q is not a valid WAV file", path)
	}

	depth := int(dec.BitDepth)
	var sample func(int) float32
	switch {
	case dec.WavAudioFormat == pcmFormat && depth == 8:
		// 8-bit PCM is unsigned, centred on 128.
		sample = func(v int) float32 { return float32(v-128) / 128 }
	case dec.WavAudioFormat == pcmFormat && depth > 8 && depth <= 32:
		scale := float32(int64(1) << uint(depth-1))
		sample = func(v int) float32 { return float32(v) / scale }
	case dec.WavAudioFormat == floatFormat && depth == 32:
		sample = func(v int) float32 { return math.Float32frombits(uint32(int32(v))) }
	default:
		return nil, fmt.Errorf("audio: %q: %w (format %d, %d-bit)",
			path, ErrUnsupportedEncoding, dec.WavAudioFormat, depth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode %q: %w", path, err)
	}

	channels := 1
	rate := SampleRate
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			rate = buf.Format.SampleRate
		}
	}

	mono := downmix(buf.Data, channels, sample)
	return Resample(mono, rate, SampleRate), nil
}

// downmix converts interleaved frames to mono float32.
func downmix(data []int, channels int, sample func(int) float32) []float32 {
	frames := len(data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += sample(data[i*channels+c])
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts samples from one rate to another using linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || len(samples) == 0 {
		return samples
	}

	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float32, n)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// WriteFile writes canonical mono 16kHz samples as a 16-bit PCM WAV file.
func WriteFile(path string, samples []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %q: %w", path, err)
	}

	enc := wav.NewEncoder(f, SampleRate, bitDepth, Channels, pcmFormat)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(float64(clamp(s)) * maxInt16Float))
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("audio: encode %q: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("audio: finalize %q: %w", path, err)
	}
	return f.Close()
}

// Duration returns the playback length of canonical samples.
func Duration(samples []float32) time.Duration {
	return time.Duration(float64(len(samples)) / SampleRate * float64(time.Second))
}

// Slice returns the samples between start and end seconds. Bounds are
// clamped to the available audio; an inverted or out-of-range window yields
// an empty slice.
func Slice(samples []float32, start, end float64) []float32 {
	from := secondsToIndex(start, len(samples))
	to := secondsToIndex(end, len(samples))
	if to <= from {
		return []float32{}
	}
	return samples[from:to]
}

func secondsToIndex(sec float64, n int) int {
	idx := int(sec * SampleRate)
	if idx < 0 {
		return 0
	}
	if idx > n {
		return n
	}
	return idx
}

// SineWave synthesizes a half-amplitude tone of the given frequency and length.
func SineWave(freq float64, d time.Duration) []float32 {
	n := int(d.Seconds() * SampleRate)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
	}
	return out
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
