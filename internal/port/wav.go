package port

import (
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
)

const wavReadChunk = 8192

// DecodeWAV reads the first channel of a PCM WAV file as samples normalised
// to [-1, 1]. It allocates and reads the file, so it belongs on a control
// goroutine.
func DecodeWAV(path string) (samples []float32, sampleRate int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.New(err).
			Component(ComponentPort).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.New(cerr).
				Component(ComponentPort).
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
	}()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, errors.New(ErrUnsupportedAudio).
			Context("path", path).
			Context("reason", "not a valid WAV file").
			Build()
	}

	divisor, err := sampleDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, 0, errors.New(err).Context("path", path).Build()
	}
	channels := int(decoder.NumChans)
	if channels < 1 {
		return nil, 0, errors.New(ErrUnsupportedAudio).
			Context("path", path).
			Context("channels", channels).
			Build()
	}

	buf := &audio.IntBuffer{
		Data:   make([]int, wavReadChunk*channels),
		Format: &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: channels},
	}
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, 0, errors.New(err).
				Component(ComponentPort).
				Category(errors.CategoryFileParsing).
				Context("path", path).
				Build()
		}
		if n == 0 {
			break
		}
		for i := 0; i+channels <= n; i += channels {
			samples = append(samples, float32(buf.Data[i])/divisor)
		}
	}

	return samples, int(decoder.SampleRate), nil
}

// sampleDivisor returns the full-scale value for a PCM bit depth.
func sampleDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768, nil
	case 24:
		return 8388608, nil
	case 32:
		return 2147483648, nil
	default:
		return 0, errors.New(ErrUnsupportedAudio).
			Context("bit_depth", bitDepth).
			Build()
	}
}

// LoadWAV decodes a WAV file on the calling goroutine and queues its first
// channel as the replay buffer.
func (p *AudioPort) LoadWAV(path string, loop bool) error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	samples, rate, err := DecodeWAV(path)
	if err != nil {
		return err
	}
	if err := p.loadOwned(samples, loop); err != nil {
		return err
	}
	p.log.Info("wav loaded",
		logger.String("path", path),
		logger.Int("samples", len(samples)),
		logger.Int("sample_rate", rate),
		logger.Bool("loop", loop))
	return nil
}
