package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

var (
	// ErrInvalidWAV is returned when the input has no usable fmt/data chunks.
	ErrInvalidWAV = errors.New("audio: invalid wav")
	// ErrNoSegments is returned by Concat when no input could be used.
	ErrNoSegments = errors.New("audio: no valid segments to concatenate")
)

const pcmFormat = 1

// Load reads a WAV file and downmixes it to mono.
func Load(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return c, nil
}

// Decode parses integer PCM WAV data of any channel count.
func Decode(r io.ReadSeeker) (*Clip, error) {
	d := wav.NewDecoder(r)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if d.SampleRate == 0 || buf.Format == nil {
		return nil, ErrInvalidWAV
	}

	chans := buf.Format.NumChannels
	if chans < 1 {
		chans = 1
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(d.BitDepth)
	}
	if depth < 8 {
		return nil, ErrInvalidWAV
	}
	scale := float64(int64(1) << (depth - 1))
	offset := 0.0
	if depth == 8 {
		// 8-bit wav is unsigned
		offset = 128
	}

	frames := len(buf.Data) / chans
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for ch := 0; ch < chans; ch++ {
			sum += (float64(buf.Data[i*chans+ch]) - offset) / scale
		}
		samples[i] = sum / float64(chans)
	}
	return &Clip{SampleRate: int(d.SampleRate), Samples: samples}, nil
}

// Save writes c as 16-bit mono PCM.
func Save(path string, c *Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f, c); err != nil {
		f.Close()
		return fmt.Errorf("save %s: %w", path, err)
	}
	return f.Close()
}

// Encode returns c as 16-bit mono WAV bytes, the form oracles receive.
func Encode(c *Clip) ([]byte, error) {
	ws := &writerseeker.WriterSeeker{}
	if err := encode(ws, c); err != nil {
		return nil, err
	}
	return io.ReadAll(ws.Reader())
}

func encode(w io.WriteSeeker, c *Clip) error {
	enc := wav.NewEncoder(w, c.SampleRate, 16, 1, pcmFormat)
	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		data[i] = toInt16(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: c.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}
