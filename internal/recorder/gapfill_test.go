package recorder

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm(seconds float64) []byte {
	return bytes.Repeat([]byte{0x01, 0x02}, int(seconds*AudioSampleRate))
}

func TestAudioGapFiller(t *testing.T) {
	type chunk struct {
		relative float64
		seconds  float64
	}
	tests := []struct {
		name        string
		policy      GapPolicy
		chunks      []chunk
		wantPadding []int // padding bytes before each chunk
		wantEnd     float64
	}{
		{
			name:        "contiguous",
			chunks:      []chunk{{0, 1}, {1, 1}, {2, 0.5}},
			wantPadding: []int{0, 0, 0},
			wantEnd:     2.5,
		},
		{
			name:        "gap filled with silence",
			chunks:      []chunk{{0, 1}, {3, 1}},
			wantPadding: []int{0, 64000},
			wantEnd:     4,
		},
		{
			name:        "first chunk is never padded",
			chunks:      []chunk{{10, 1}},
			wantPadding: []int{0},
			wantEnd:     11,
		},
		{
			name:        "overlap with clamp keeps the furthest end",
			chunks:      []chunk{{0, 2}, {1, 0.5}, {2, 1}},
			wantPadding: []int{0, 0, 0},
			wantEnd:     3,
		},
		{
			name:        "overlap with trust-order rewinds",
			policy:      GapPolicyTrustOrder,
			chunks:      []chunk{{0, 2}, {1, 0.5}, {2, 1}},
			wantPadding: []int{0, 0, 16000},
			wantEnd:     3,
		},
		{
			name:        "sub-sample gap rounds to nothing",
			chunks:      []chunk{{0, 1}, {1.00002, 1}},
			wantPadding: []int{0, 0},
			wantEnd:     2.00002,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := AudioGapFiller{Policy: tt.policy}
			var tl Timeline
			for i, c := range tt.chunks {
				data := pcm(c.seconds)
				res := f.Fill(&tl, c.relative, data)
				buf := res.Bytes()

				assert.False(t, res.Dropped)
				assert.Equal(t, tt.wantPadding[i]+len(data), len(buf), "chunk %d", i)
				assert.Equal(t, tt.wantPadding[i]/AudioBytesPerSample, res.PaddingUnits, "chunk %d", i)
				assert.Equal(t, make([]byte, tt.wantPadding[i]), buf[:tt.wantPadding[i]], "chunk %d padding must be silence", i)
				assert.Equal(t, data, buf[tt.wantPadding[i]:], "chunk %d payload", i)
			}
			end, ok := tl.PreviousEnd()
			assert.True(t, ok)
			assert.InDelta(t, tt.wantEnd, end, 1e-9)
		})
	}
}

func TestAudioGapFiller_Padding(t *testing.T) {
	var tl Timeline
	f := AudioGapFiller{}
	f.Fill(&tl, 0, pcm(1))
	res := f.Fill(&tl, 3, pcm(1))
	assert.InDelta(t, 2.0, res.Padding, 1e-9)
	assert.Equal(t, 32000, res.PaddingUnits)
}

func TestAudioGapFiller_Blocks(t *testing.T) {
	var tl Timeline
	f := AudioGapFiller{}
	f.Fill(&tl, 0, pcm(1))
	res := f.Fill(&tl, 3.5, pcm(1))

	var sizes []int
	require.NoError(t, res.Each(func(b []byte) error {
		sizes = append(sizes, len(b))
		return nil
	}))
	// 2.5s of silence as two full seconds and a half second tail
	assert.Equal(t, []int{32000, 32000, 16000, 32000}, sizes)

	stop := errors.New("stop")
	calls := 0
	err := res.Each(func(b []byte) error {
		calls++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, calls)
}

func TestGapFiller_MaxGap(t *testing.T) {
	tests := []struct {
		name      string
		filler    GapFiller
		relatives []float64
		dropped   []bool
		wantEnd   float64
	}{
		{
			name:      "audio within bound",
			filler:    AudioGapFiller{MaxGap: 60},
			relatives: []float64{0, 60},
			dropped:   []bool{false, false},
			wantEnd:   61,
		},
		{
			name:      "audio far future chunk dropped, timeline kept",
			filler:    AudioGapFiller{MaxGap: 60},
			relatives: []float64{0, 1e15, 1},
			dropped:   []bool{false, true, false},
			wantEnd:   2,
		},
		{
			name:      "audio trust-order also bounded",
			filler:    AudioGapFiller{Policy: GapPolicyTrustOrder, MaxGap: 60},
			relatives: []float64{0, 1e10},
			dropped:   []bool{false, true},
			wantEnd:   1,
		},
		{
			name:      "video far future frame dropped",
			filler:    VideoGapFiller{Frame: []byte("BLANK"), MaxGap: 60},
			relatives: []float64{0, 1e15, 0.5},
			dropped:   []bool{false, true, false},
			wantEnd:   1,
		},
		{
			name:      "video first frame measured from zero",
			filler:    VideoGapFiller{Frame: []byte("BLANK"), MaxGap: 60},
			relatives: []float64{61},
			dropped:   []bool{true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tl Timeline
			for i, rel := range tt.relatives {
				res := tt.filler.Fill(&tl, rel, pcm(1))
				assert.Equal(t, tt.dropped[i], res.Dropped, "chunk %d", i)
				if res.Dropped {
					assert.Equal(t, DropGap, res.DropReason, "chunk %d", i)
					assert.Zero(t, res.PaddingUnits, "chunk %d", i)
				}
			}
			end, _ := tl.PreviousEnd()
			assert.InDelta(t, tt.wantEnd, end, 1e-9)
		})
	}
}

func TestVideoGapFiller(t *testing.T) {
	blank := []byte("BLANK")
	frame := []byte("frame")

	tests := []struct {
		name       string
		relatives  []float64
		wantFrames []int // filler frames per chunk, -1 when dropped
		wantEnd    float64
	}{
		{
			name:       "steady 2fps",
			relatives:  []float64{0, 0.5, 1.0},
			wantFrames: []int{0, 0, 0},
			wantEnd:    1.5,
		},
		{
			name:       "first frame late",
			relatives:  []float64{1.2},
			wantFrames: []int{2},
			wantEnd:    1.7,
		},
		{
			name:       "gap",
			relatives:  []float64{0, 2.0},
			wantFrames: []int{0, 3},
			wantEnd:    2.5,
		},
		{
			name:       "partial frame gap floors",
			relatives:  []float64{0, 0.9},
			wantFrames: []int{0, 0},
			wantEnd:    1.4,
		},
		{
			name:       "duplicate and earlier frames dropped",
			relatives:  []float64{1.0, 1.0, 0.5, 1.5},
			wantFrames: []int{2, -1, -1, 0},
			wantEnd:    2.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := VideoGapFiller{Frame: blank}
			var tl Timeline
			for i, rel := range tt.relatives {
				res := f.Fill(&tl, rel, frame)
				if tt.wantFrames[i] < 0 {
					assert.True(t, res.Dropped, "chunk %d", i)
					assert.Equal(t, DropStale, res.DropReason, "chunk %d", i)
					assert.Nil(t, res.Bytes(), "chunk %d", i)
					continue
				}
				assert.False(t, res.Dropped, "chunk %d", i)
				want := append(bytes.Repeat(blank, tt.wantFrames[i]), frame...)
				assert.Equal(t, want, res.Bytes(), "chunk %d", i)
				assert.Equal(t, tt.wantFrames[i], res.PaddingUnits, "chunk %d", i)
			}
			end, _ := tl.PreviousEnd()
			assert.InDelta(t, tt.wantEnd, end, 1e-9)
		})
	}
}

func TestParseGapPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    GapPolicy
		wantErr bool
	}{
		{"", GapPolicyClamp, false},
		{"clamp", GapPolicyClamp, false},
		{"trust-order", GapPolicyTrustOrder, false},
		{"latest", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseGapPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseGapPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseGapPolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	assert.Equal(t, "trust-order", GapPolicyTrustOrder.String())
}
