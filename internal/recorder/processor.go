package recorder

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/recallai/separate-streams-recorder/internal/appstats"
	"github.com/recallai/separate-streams-recorder/internal/config"
	"github.com/recallai/separate-streams-recorder/internal/types"
	log "github.com/sirupsen/logrus"
)

// Observer is told when a stream gets its output file and when it is
// finalized.
type Observer interface {
	StreamOpened(kind MediaKind, key StreamKey, file string)
	StreamClosed(kind MediaKind, key StreamKey, stats *types.StreamStats)
}

// Chunk is one decoded media message.
type Chunk struct {
	RecordingID   string
	ParticipantID int64
	// Relative is the chunk start in seconds since the recording started.
	Relative float64
	Data     []byte
}

// Processor runs chunks of one media kind through gap filling, batching and
// encoding. Chunks of the same stream are applied in call order.
type Processor struct {
	kind        MediaKind
	cfg         config.Recorder
	filler      GapFiller
	manager     *Manager
	batcher     *Batcher
	observer    Observer
	statsWriter *appstats.StatsFileWriter

	mu      sync.Mutex
	streams map[StreamKey]*stream
}

type stream struct {
	mu       sync.Mutex
	closed   bool
	started  bool
	timeline Timeline
	stats    types.StreamStats
}

func NewProcessor(kind MediaKind, cfg config.Recorder, factory EncoderFactory, observer Observer) (*Processor, error) {
	p := &Processor{
		kind:     kind,
		cfg:      cfg,
		manager:  NewManager(cfg, kind, factory),
		observer: observer,
		streams:  make(map[StreamKey]*stream),
	}

	switch kind {
	case MediaKindAudio:
		policy, err := ParseGapPolicy(cfg.AudioGapPolicy)
		if err != nil {
			return nil, err
		}
		p.filler = AudioGapFiller{Policy: policy, MaxGap: cfg.MaxGap.Seconds()}
	case MediaKindVideo:
		p.filler = VideoGapFiller{Frame: BlankFrame(), MaxGap: cfg.MaxGap.Seconds()}
	default:
		return nil, fmt.Errorf("unsupported media kind %q", kind)
	}

	if cfg.WriteStatsFile {
		fileMode, err := parseFileMode(cfg.FileMode)
		if err != nil {
			return nil, err
		}
		p.statsWriter = appstats.NewStatsFileWriter(fileMode)
	}

	p.batcher = NewBatcher(cfg.WriteThreshold, cfg.FlushInterval, p.flush, func(key StreamKey, err error) {
		p.log(key).Warnf("flush failed: %s", err)
	})
	return p, nil
}

func (p *Processor) Kind() MediaKind {
	return p.kind
}

func (p *Processor) Manager() *Manager {
	return p.manager
}

func (p *Processor) Batcher() *Batcher {
	return p.batcher
}

func (p *Processor) log(key StreamKey) *log.Entry {
	return log.WithFields(log.Fields{
		"recording":   key.RecordingID,
		"participant": key.ParticipantID,
		"kind":        p.kind,
	})
}

func (p *Processor) flush(key StreamKey, data []byte, trigger FlushTrigger) error {
	appstats.OnFlush(string(p.kind), string(trigger))
	return p.manager.Write(key, data)
}

// lockStream returns the locked state of key, skipping states that are
// being torn down.
func (p *Processor) lockStream(key StreamKey) *stream {
	for {
		p.mu.Lock()
		s, ok := p.streams[key]
		if !ok {
			s = &stream{}
			s.stats = types.StreamStats{
				RecordingID:   key.RecordingID,
				ParticipantID: key.ParticipantID,
				Kind:          string(p.kind),
				StartTime:     time.Now().UnixMilli(),
			}
			p.streams[key] = s
		}
		p.mu.Unlock()

		s.mu.Lock()
		if !s.closed {
			return s
		}
		s.mu.Unlock()
	}
}

// Process pads c against the stream timeline and queues it for encoding.
// Chunks that land in already covered video time, or further than MaxGap
// past the previous chunk, are dropped without error.
func (p *Processor) Process(c Chunk) error {
	key := NewStreamKey(c.RecordingID, c.ParticipantID)
	if err := key.validate(); err != nil {
		return err
	}

	s := p.lockStream(key)
	defer s.mu.Unlock()

	s.stats.ChunksReceived++
	appstats.OnChunk(string(p.kind))

	pl, ok := p.manager.Get(key)
	if !ok {
		var err error
		if pl, err = p.manager.GetOrCreate(key); err != nil {
			return err
		}
		if p.observer != nil {
			p.observer.StreamOpened(p.kind, key, pl.Path())
		}
	}

	fill := p.filler.Fill(&s.timeline, c.Relative, c.Data)
	if fill.Dropped {
		s.stats.ChunksDropped++
		appstats.OnDroppedChunk(string(p.kind), string(fill.DropReason))
		if fill.DropReason == DropGap {
			prev, _ := s.timeline.PreviousEnd()
			p.log(key).Warnf("dropped chunk at %.3fs, more than %s after %.3fs", c.Relative, p.cfg.MaxGap, prev)
		} else {
			p.log(key).Tracef("dropped chunk at %.3fs", c.Relative)
		}
		return nil
	}

	if !s.started {
		s.started = true
		s.stats.FirstRelative = c.Relative
	}
	s.stats.LastChunkEnd, _ = s.timeline.PreviousEnd()

	if fill.PaddingUnits > 0 {
		s.stats.PaddingSeconds += fill.Padding
		if p.kind == MediaKindVideo {
			s.stats.PaddingFrames += fill.PaddingUnits
		}
		appstats.OnPadding(string(p.kind), fill.Padding)
		p.log(key).Debugf("padded %.3fs before chunk at %.3fs", fill.Padding, c.Relative)
	}

	if p.kind == MediaKindVideo {
		pl.WriteSnapshot(c.Relative, c.Data)
	}

	// padding goes out block by block so long gaps never sit in memory at once
	return fill.Each(func(b []byte) error {
		if p.kind == MediaKindAudio {
			pl.WriteRaw(b)
		}
		return p.batcher.Enqueue(key, b)
	})
}

// Keys lists the streams of recordingID known to the processor.
func (p *Processor) Keys(recordingID string) []StreamKey {
	seen := make(map[StreamKey]bool)
	p.mu.Lock()
	for k := range p.streams {
		if k.RecordingID == recordingID {
			seen[k] = true
		}
	}
	p.mu.Unlock()
	for _, k := range p.manager.Keys(recordingID) {
		seen[k] = true
	}

	keys := make([]StreamKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ParticipantID < keys[j].ParticipantID })
	return keys
}

// CloseRecording finalizes every stream of recordingID, flushing pending
// buffers first. Streams of other recordings are untouched. It returns the
// number of pipelines closed.
func (p *Processor) CloseRecording(recordingID string) int {
	closed := 0
	for _, key := range p.Keys(recordingID) {
		if p.closeStream(key) {
			closed++
		}
	}
	return closed
}

// Close finalizes every stream.
func (p *Processor) Close() {
	p.mu.Lock()
	keys := make([]StreamKey, 0, len(p.streams))
	for k := range p.streams {
		keys = append(keys, k)
	}
	p.mu.Unlock()

	for _, k := range keys {
		p.closeStream(k)
	}
	p.manager.CloseAll()
}

func (p *Processor) closeStream(key StreamKey) bool {
	p.mu.Lock()
	s := p.streams[key]
	delete(p.streams, key)
	p.mu.Unlock()

	if s != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
	} else {
		s = &stream{stats: types.StreamStats{
			RecordingID:   key.RecordingID,
			ParticipantID: key.ParticipantID,
			Kind:          string(p.kind),
		}}
	}

	if err := p.batcher.Drain(key); err != nil && !errors.Is(err, ErrPipelineNotFound) {
		p.log(key).Warnf("final flush failed: %s", err)
	}
	p.batcher.Discard(key)

	pl, ok := p.manager.Get(key)
	if !ok {
		return false
	}
	if err := p.manager.Close(key); err != nil {
		p.log(key).Errorf("closing pipeline: %s", err)
	}

	stats := s.stats
	stats.EndTime = time.Now().UnixMilli()
	pl.fillStats(&stats)

	if p.statsWriter != nil {
		if err := p.statsWriter.WriteStats(pl.Path(), &stats); err != nil {
			p.log(key).Warnf("failed to write stats file: %s", err)
		}
	}
	if p.observer != nil {
		p.observer.StreamClosed(p.kind, key, &stats)
	}
	return true
}
