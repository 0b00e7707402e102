package recorder

import (
	"fmt"
	"math"
)

const (
	AudioSampleRate     = 16000
	AudioBytesPerSample = 2

	VideoFrameRate = 2
	// VideoFrameDuration is the display time of one PNG frame, in seconds.
	VideoFrameDuration = 1.0 / VideoFrameRate
)

// GapPolicy decides how the audio timeline advances after a chunk.
type GapPolicy int

const (
	// GapPolicyClamp never moves the timeline backwards.
	GapPolicyClamp GapPolicy = iota
	// GapPolicyTrustOrder takes the end of the last chunk as given, even if
	// it is earlier than what was already written.
	GapPolicyTrustOrder
)

func ParseGapPolicy(s string) (GapPolicy, error) {
	switch s {
	case "", "clamp":
		return GapPolicyClamp, nil
	case "trust-order":
		return GapPolicyTrustOrder, nil
	default:
		return 0, fmt.Errorf("unknown gap policy %q", s)
	}
}

func (p GapPolicy) String() string {
	if p == GapPolicyTrustOrder {
		return "trust-order"
	}
	return "clamp"
}

// Timeline remembers where the last accepted chunk of a stream ended.
type Timeline struct {
	previousEnd float64
	set         bool
}

// PreviousEnd returns the end of the last accepted chunk, if any.
func (t *Timeline) PreviousEnd() (float64, bool) {
	return t.previousEnd, t.set
}

func (t *Timeline) advance(end float64) {
	if !t.set || end > t.previousEnd {
		t.previousEnd = end
	}
	t.set = true
}

func (t *Timeline) reset(end float64) {
	t.previousEnd = end
	t.set = true
}

// DropReason tells why a chunk was not written.
type DropReason string

const (
	// DropStale is a video frame at or before already covered time.
	DropStale DropReason = "stale"
	// DropGap is a chunk whose gap to the previous chunk exceeds MaxGap.
	DropGap DropReason = "gap"
)

// silenceBlock is one second of 16 kHz s16le silence. Padding is handed out
// as read-only sub-slices of it.
var silenceBlock = make([]byte, AudioSampleRate*AudioBytesPerSample)

// Fill is the outcome of running one chunk through a GapFiller. Padding is
// not materialized: Each yields it in blocks of at most one second of audio
// or one video frame.
type Fill struct {
	Chunk      []byte
	Dropped    bool
	DropReason DropReason
	// Padding is the amount of synthesized media, in seconds.
	Padding float64
	// PaddingUnits counts synthesized samples (audio) or frames (video).
	PaddingUnits int

	block  []byte
	repeat int
	tail   []byte
}

// Each calls fn with every padding block and then the chunk, stopping at
// the first error. Blocks are shared and must not be modified.
func (f Fill) Each(fn func([]byte) error) error {
	if f.Dropped {
		return nil
	}
	for i := 0; i < f.repeat; i++ {
		if err := fn(f.block); err != nil {
			return err
		}
	}
	if len(f.tail) > 0 {
		if err := fn(f.tail); err != nil {
			return err
		}
	}
	return fn(f.Chunk)
}

// Bytes returns the padding followed by the chunk in one buffer, or nil for
// a dropped chunk.
func (f Fill) Bytes() []byte {
	if f.Dropped {
		return nil
	}
	buf := make([]byte, 0, f.repeat*len(f.block)+len(f.tail)+len(f.Chunk))
	_ = f.Each(func(b []byte) error {
		buf = append(buf, b...)
		return nil
	})
	return buf
}

// GapFiller pads a chunk so the encoded output stays in sync with the
// stream's relative timestamps.
type GapFiller interface {
	Fill(t *Timeline, relative float64, chunk []byte) Fill
}

// AudioGapFiller inserts silence for 16 kHz mono s16le PCM.
type AudioGapFiller struct {
	Policy GapPolicy
	// MaxGap in seconds; chunks further from the previous end are dropped.
	// Zero means unbounded.
	MaxGap float64
}

func AudioDuration(pcm []byte) float64 {
	return float64(len(pcm)) / AudioBytesPerSample / AudioSampleRate
}

func (f AudioGapFiller) Fill(t *Timeline, relative float64, pcm []byte) Fill {
	end := relative + AudioDuration(pcm)
	res := Fill{Chunk: pcm}

	if prev, ok := t.PreviousEnd(); ok {
		gap := relative - prev
		if f.MaxGap > 0 && gap > f.MaxGap {
			return Fill{Dropped: true, DropReason: DropGap}
		}
		if gap > 0 {
			samples := int(math.Round(gap * AudioSampleRate))
			silence := samples * AudioBytesPerSample
			rest := silence % len(silenceBlock)
			res.block = silenceBlock
			res.repeat = silence / len(silenceBlock)
			res.tail = silenceBlock[:rest:rest]
			res.PaddingUnits = samples
			res.Padding = float64(samples) / AudioSampleRate
		}
	}

	if f.Policy == GapPolicyTrustOrder {
		t.reset(end)
	} else {
		t.advance(end)
	}
	return res
}

// VideoGapFiller repeats a filler frame to cover gaps in a 2 fps PNG stream
// and drops frames that arrive at or before already covered time.
type VideoGapFiller struct {
	Frame []byte
	// MaxGap in seconds; frames further from the previous end are dropped.
	// Zero means unbounded.
	MaxGap float64
}

func (f VideoGapFiller) Fill(t *Timeline, relative float64, png []byte) Fill {
	prev, _ := t.PreviousEnd()
	gap := relative - prev
	if gap < 0 {
		return Fill{Dropped: true, DropReason: DropStale}
	}
	if f.MaxGap > 0 && gap > f.MaxGap {
		return Fill{Dropped: true, DropReason: DropGap}
	}

	res := Fill{Chunk: png}
	if frames := int(math.Floor(gap / VideoFrameDuration)); frames > 0 {
		res.block = f.Frame
		res.repeat = frames
		res.PaddingUnits = frames
		res.Padding = float64(frames) * VideoFrameDuration
	}

	t.advance(relative + VideoFrameDuration)
	return res
}
