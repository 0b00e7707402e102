package recorder

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/recallai/separate-streams-recorder/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder copies its input to the output file.
type fakeEncoder struct {
	mu       sync.Mutex
	out      io.Writer
	spec     EncoderSpec
	onError  func(error)
	ended    bool
	writeErr error
}

func (e *fakeEncoder) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writeErr != nil {
		return 0, e.writeErr
	}
	return e.out.Write(p)
}

func (e *fakeEncoder) End() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = true
	return nil
}

func (e *fakeEncoder) isEnded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ended
}

type fakeFactory struct {
	mu       sync.Mutex
	encoders []*fakeEncoder
	err      error
}

func (f *fakeFactory) new(spec EncoderSpec, out io.Writer, onError func(error)) (Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e := &fakeEncoder{out: out, spec: spec, onError: onError}
	f.encoders = append(f.encoders, e)
	return e, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.encoders)
}

func testRecorderConfig(t *testing.T) config.Recorder {
	return config.Recorder{
		Directory:      t.TempDir(),
		DirFileMode:    "0755",
		FileMode:       "0644",
		WriteThreshold: 5,
		FlushInterval:  10 * time.Millisecond,
		AudioGapPolicy: "clamp",
		MaxGap:         time.Hour,
	}
}

func TestManager_GetOrCreate(t *testing.T) {
	cfg := testRecorderConfig(t)
	f := &fakeFactory{}
	m := NewManager(cfg, MediaKindAudio, f.new)
	key := NewStreamKey("rec-1", 100)

	p1, err := m.GetOrCreate(key)
	require.NoError(t, err)
	p2, err := m.GetOrCreate(key)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, f.count(), "one encoder per stream")
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, filepath.Join(cfg.Directory, "recording-rec-1", "participant-100.mp3"), p1.Path())
	assert.Equal(t, EncoderSpec{Kind: MediaKindAudio, Key: key}, f.encoders[0].spec)
	assert.FileExists(t, p1.Path())

	other, err := m.GetOrCreate(NewStreamKey("rec-1", 101))
	require.NoError(t, err)
	assert.NotSame(t, p1, other)
	assert.Equal(t, 2, m.Len())
}

func TestManager_WriteAndClose(t *testing.T) {
	cfg := testRecorderConfig(t)
	f := &fakeFactory{}
	m := NewManager(cfg, MediaKindVideo, f.new)
	key := NewStreamKey("rec-1", 7)

	assert.ErrorIs(t, m.Write(key, []byte("x")), ErrPipelineNotFound)
	assert.ErrorIs(t, m.Close(key), ErrPipelineNotFound)

	p, err := m.GetOrCreate(key)
	require.NoError(t, err)
	assert.Equal(t, ".mp4", filepath.Ext(p.Path()))
	require.NoError(t, m.Write(key, []byte("hello")))

	require.NoError(t, m.Close(key))
	assert.True(t, f.encoders[0].isEnded())
	assert.Equal(t, 0, m.Len())
	_, ok := m.Get(key)
	assert.False(t, ok)

	content, err := os.ReadFile(p.Path())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	assert.ErrorIs(t, p.Write([]byte("late")), ErrPipelineClosed)
	assert.ErrorIs(t, m.Write(key, []byte("late")), ErrPipelineNotFound)
}

func TestManager_ReopenUsesNextSegment(t *testing.T) {
	cfg := testRecorderConfig(t)
	f := &fakeFactory{}
	m := NewManager(cfg, MediaKindAudio, f.new)
	key := NewStreamKey("rec-1", 1)

	var paths []string
	for i := 0; i < 3; i++ {
		p, err := m.GetOrCreate(key)
		require.NoError(t, err)
		paths = append(paths, filepath.Base(p.Path()))
		require.NoError(t, m.Close(key))
	}
	assert.Equal(t, []string{"participant-1.mp3", "participant-1-1.mp3", "participant-1-2.mp3"}, paths)
}

func TestManager_Keys(t *testing.T) {
	m := NewManager(testRecorderConfig(t), MediaKindAudio, (&fakeFactory{}).new)
	for _, k := range []StreamKey{
		NewStreamKey("rec-1", 3), NewStreamKey("rec-1", 1), NewStreamKey("rec-10", 2), NewStreamKey("rec", 4),
	} {
		_, err := m.GetOrCreate(k)
		require.NoError(t, err)
	}

	assert.Equal(t, []StreamKey{NewStreamKey("rec-1", 1), NewStreamKey("rec-1", 3)}, m.Keys("rec-1"))
	assert.Empty(t, m.Keys("missing"))

	m.CloseAll()
	assert.Equal(t, 0, m.Len())
}

func TestManager_Errors(t *testing.T) {
	t.Run("invalid recording id", func(t *testing.T) {
		m := NewManager(testRecorderConfig(t), MediaKindAudio, (&fakeFactory{}).new)
		for _, rid := range []string{"", "..", "a/b", `a\b`} {
			_, err := m.GetOrCreate(NewStreamKey(rid, 1))
			assert.Error(t, err, "recording id %q", rid)
		}
		assert.Equal(t, 0, m.Len())
	})

	t.Run("encoder failure removes the file", func(t *testing.T) {
		cfg := testRecorderConfig(t)
		m := NewManager(cfg, MediaKindAudio, (&fakeFactory{err: errors.New("no ffmpeg")}).new)
		_, err := m.GetOrCreate(NewStreamKey("rec-1", 1))
		assert.Error(t, err)
		assert.NoFileExists(t, filepath.Join(cfg.Directory, "recording-rec-1", "participant-1.mp3"))
		assert.Equal(t, 0, m.Len())
	})

	t.Run("missing recorder directory", func(t *testing.T) {
		cfg := testRecorderConfig(t)
		cfg.Directory = filepath.Join(cfg.Directory, "missing")
		m := NewManager(cfg, MediaKindAudio, (&fakeFactory{}).new)
		_, err := m.GetOrCreate(NewStreamKey("rec-1", 1))
		assert.Error(t, err)
	})
}

func TestManager_SideOutputs(t *testing.T) {
	cfg := testRecorderConfig(t)
	cfg.WriteRawAudio = true
	cfg.WriteSnapshots = true

	audio := NewManager(cfg, MediaKindAudio, (&fakeFactory{}).new)
	p, err := audio.GetOrCreate(NewStreamKey("rec-1", 1))
	require.NoError(t, err)
	p.WriteRaw([]byte{1, 2, 3, 4})
	require.NoError(t, audio.Close(p.Key()))
	raw, err := os.ReadFile(filepath.Join(cfg.Directory, "recording-rec-1", "participant-1.raw"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, raw)

	video := NewManager(cfg, MediaKindVideo, (&fakeFactory{}).new)
	p, err = video.GetOrCreate(NewStreamKey("rec-1", 2))
	require.NoError(t, err)
	p.WriteSnapshot(1.5, []byte("png"))
	p.WriteSnapshot(2, []byte("png2"))
	dir := filepath.Join(cfg.Directory, "recording-rec-1", "participant-2-snapshots")
	assert.FileExists(t, filepath.Join(dir, "frame-1.5s.png"))
	assert.FileExists(t, filepath.Join(dir, "frame-2s.png"))
	require.NoError(t, video.Close(p.Key()))
}

func TestPipeline_EncoderWriteErrorIsNotReturned(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(testRecorderConfig(t), MediaKindAudio, f.new)
	key := NewStreamKey("rec-1", 1)
	p, err := m.GetOrCreate(key)
	require.NoError(t, err)

	f.encoders[0].writeErr = errors.New("broken pipe")
	assert.NoError(t, m.Write(key, []byte("a")))
	assert.NoError(t, m.Write(key, []byte("b")))
	assert.Equal(t, int64(2), p.encoderErrors.Load())
}
