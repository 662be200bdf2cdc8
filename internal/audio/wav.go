package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// DecodeWAV decodes a WAV blob into mono float32 samples and returns its
// sample rate. Multi-channel input is down-mixed by averaging.
func DecodeWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	if buf == nil {
		return nil, 0, errors.New("empty wav buffer")
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	max := float32(int(1) << (bitDepth - 1))

	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 1 {
		channels = buf.Format.NumChannels
	}
	out := make([]float32, len(buf.Data)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / max
		}
		out[i] = sum / float32(channels)
	}

	sr := int(dec.SampleRate)
	if sr == 0 && buf.Format != nil {
		sr = buf.Format.SampleRate
	}
	if sr == 0 {
		sr = 16000
	}
	return out, sr, nil
}

// DecodeWAVBytes is DecodeWAV over an in-memory blob.
func DecodeWAVBytes(b []byte) ([]float32, int, error) {
	return DecodeWAV(bytes.NewReader(b))
}

// EncodeWAV renders mono float32 samples as a 16-bit RIFF WAV blob.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	ws := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, 1, 1)
	if err := enc.Write(intBuffer(samples, sampleRate)); err != nil {
		return nil, fmt.Errorf("encoder write buffer: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoder close: %w", err)
	}
	b, err := io.ReadAll(ws.Reader())
	if err != nil {
		return nil, fmt.Errorf("reading wav into memory: %w", err)
	}
	return b, nil
}

func intBuffer(samples []float32, sampleRate int) *goaudio.IntBuffer {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(toInt16(s))
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
}

// Recorder tees ingested samples into a 16-bit mono WAV file.
type Recorder struct {
	mu         sync.Mutex
	f          *os.File
	enc        *wav.Encoder
	sampleRate int
	written    int
}

func NewRecorder(path string, sampleRate int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &Recorder{
		f:          f,
		enc:        wav.NewEncoder(f, sampleRate, 16, 1, 1),
		sampleRate: sampleRate,
	}, nil
}

func (r *Recorder) Write(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return errors.New("recorder closed")
	}
	if err := r.enc.Write(intBuffer(samples, r.sampleRate)); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	r.written += len(samples)
	return nil
}

// Seconds reports how much audio has been recorded.
func (r *Recorder) Seconds() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(r.written) / float64(r.sampleRate)
}

// Close finalizes the RIFF header and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return nil
	}
	err := r.enc.Close()
	r.enc = nil
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
