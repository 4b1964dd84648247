package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// Encoding identifies how synthesized speech bytes are encoded.
type Encoding string

const (
	// EncodingPCM16 is raw interleaved 16-bit signed little-endian PCM.
	EncodingPCM16 Encoding = "pcm16"

	// EncodingMP3 is an MPEG-1/2 Layer III stream.
	EncodingMP3 Encoding = "mp3"
)

// ErrUnsupportedEncoding is wrapped by [DecodePayload] when the payload names
// an encoding this package cannot decode.
var ErrUnsupportedEncoding = errors.New("audio: unsupported encoding")

// DecodeError reports a failure to turn encoded speech into a [Buffer].
type DecodeError struct {
	// Op names the decoding step that failed ("base64", "pcm16", "mp3").
	Op  string
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio: decode %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

// Payload is encoded speech together with the format it was produced in.
// For [EncodingMP3] the format is taken from the stream itself and Format is
// ignored.
type Payload struct {
	Data     []byte
	Encoding Encoding
	Format   Format
}

// Decode interprets raw as 24 kHz 16-bit signed little-endian PCM with the
// given channel count.
//
// The frame count is floor(len(raw) / (channels*2)); a trailing partial frame
// is dropped silently. Every sample is divided by 32768, so the result lies in
// [-1.0, 1.0).
func Decode(raw []byte, channels int) (*Buffer, error) {
	return DecodeFormat(raw, Format{SampleRate: SpeechSampleRate, Channels: channels})
}

// DecodeFormat is [Decode] for an explicit sample rate.
func DecodeFormat(raw []byte, f Format) (*Buffer, error) {
	if !f.Valid() {
		return nil, &DecodeError{Op: "pcm16", Err: fmt.Errorf("invalid format %s", f)}
	}
	frames := len(raw) / f.FrameSize()
	n := frames * f.Channels
	samples := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		samples[i] = float32(v) / 32768
	}
	return &Buffer{Samples: samples, Format: f}, nil
}

// DecodeBase64 decodes standard base64 text. Surrounding whitespace and
// missing padding are tolerated; anything else malformed yields a
// [*DecodeError].
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if raw, rerr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rerr == nil {
		return raw, nil
	}
	return nil, &DecodeError{Op: "base64", Err: err}
}

// DecodeMP3 decodes a complete MP3 stream. go-mp3 always produces 16-bit
// stereo at the stream's own sample rate.
func DecodeMP3(data []byte) (*Buffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Op: "mp3", Err: err}
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, &DecodeError{Op: "mp3", Err: err}
	}
	return DecodeFormat(pcm, Format{SampleRate: dec.SampleRate(), Channels: 2})
}

// DecodePayload decodes p according to its encoding.
func DecodePayload(p Payload) (*Buffer, error) {
	switch p.Encoding {
	case EncodingPCM16, "":
		f := p.Format
		if f == (Format{}) {
			f = SpeechFormat
		}
		return DecodeFormat(p.Data, f)
	case EncodingMP3:
		return DecodeMP3(p.Data)
	default:
		return nil, &DecodeError{Op: string(p.Encoding), Err: ErrUnsupportedEncoding}
	}
}
