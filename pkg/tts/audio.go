package tts

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmulholland/mp3lib"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hyacinthus/mp3join"
)

var (
	ErrEmptyAudio = errors.New("audio is empty")
	ErrNotAudio   = errors.New("payload is not audio")
)

// Encoded is the JSON form of a narration, used where binary responses are
// not possible.
type Encoded struct {
	Audio  string `json:"audio"`
	Format string `json:"format"`
	Size   int    `json:"size,omitempty"`
}

func Encode(data []byte) Encoded {
	return Encoded{Audio: base64.StdEncoding.EncodeToString(data), Format: "mp3", Size: len(data)}
}

// Decode normalises a speech response to raw audio bytes. It accepts audio
// bytes as they are, or a JSON body carrying base64 audio.
func Decode(contentType string, body []byte) ([]byte, string, error) {
	trimmed := bytes.TrimSpace(body)
	if strings.HasPrefix(contentType, "application/json") || bytes.HasPrefix(trimmed, []byte("{")) {
		var enc Encoded
		if err := json.Unmarshal(trimmed, &enc); err != nil {
			return nil, "", fmt.Errorf("decode speech json: %w", err)
		}
		payload := enc.Audio
		if _, after, ok := strings.Cut(payload, ";base64,"); ok {
			payload = after
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("decode base64 audio: %w", err)
		}
		body = data
	}

	mime, err := Sniff(body)
	if err != nil {
		return nil, "", err
	}
	return body, mime, nil
}

// Sniff returns the audio MIME type of data.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") {
			return m.String(), nil
		}
	}
	return "", fmt.Errorf("%w: detected %s", ErrNotAudio, detected.String())
}

// Duration walks the mp3 frames of data and sums their play time.
func Duration(data []byte) (time.Duration, error) {
	reader := bytes.NewReader(data)

	var seconds float64
	frames := 0
	for {
		frame := mp3lib.NextFrame(reader)
		if frame == nil {
			break
		}
		if frame.SamplingRate > 0 {
			seconds += float64(frame.SampleCount) / float64(frame.SamplingRate)
		}
		frames++
	}

	if frames == 0 {
		return 0, fmt.Errorf("no mp3 frames found")
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Join concatenates mp3 chunks into one stream.
func Join(chunks [][]byte) ([]byte, error) {
	if len(chunks) == 1 {
		return chunks[0], nil
	}

	joiner := mp3join.New()
	for i, chunk := range chunks {
		if err := joiner.Append(bytes.NewReader(chunk)); err != nil {
			return nil, fmt.Errorf("append chunk %d: %w", i, err)
		}
	}
	return io.ReadAll(joiner.Reader())
}
