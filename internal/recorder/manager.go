package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/recallai/separate-streams-recorder/internal/appstats"
	"github.com/recallai/separate-streams-recorder/internal/config"
	log "github.com/sirupsen/logrus"
)

var ErrPipelineNotFound = errors.New("pipeline not found")

// maxSegments bounds the search for a free output name when a stream is
// reopened within the same recording.
const maxSegments = 1000

// Manager is the registry of live pipelines of one media kind.
type Manager struct {
	cfg     config.Recorder
	kind    MediaKind
	factory EncoderFactory

	mu        sync.Mutex
	pipelines map[StreamKey]*Pipeline
}

func NewManager(cfg config.Recorder, kind MediaKind, factory EncoderFactory) *Manager {
	return &Manager{
		cfg:       cfg,
		kind:      kind,
		factory:   factory,
		pipelines: make(map[StreamKey]*Pipeline),
	}
}

func (m *Manager) Kind() MediaKind {
	return m.kind
}

// GetOrCreate returns the pipeline of key, creating its output file and
// starting its encoder on first use.
func (m *Manager) GetOrCreate(key StreamKey) (*Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pipelines[key]; ok {
		return p, nil
	}

	p, err := m.open(key)
	if err != nil {
		return nil, err
	}
	m.pipelines[key] = p
	appstats.OnPipelineOpened(string(m.kind))
	return p, nil
}

func (m *Manager) open(key StreamKey) (*Pipeline, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}

	file, fileMode, stem, err := m.nextFile(key)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", file, err)
	}

	p := &Pipeline{
		key:       key,
		kind:      m.kind,
		path:      file,
		fileMode:  fileMode,
		file:      f,
		createdAt: time.Now(),
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(file)
		if p.raw != nil {
			_ = p.raw.Close()
		}
	}

	if m.kind == MediaKindAudio && m.cfg.WriteRawAudio {
		if p.raw, err = os.OpenFile(stem+".raw", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode); err != nil {
			cleanup()
			return nil, fmt.Errorf("creating raw file: %w", err)
		}
	}

	if m.kind == MediaKindVideo && m.cfg.WriteSnapshots {
		dirFileMode, _ := parseFileMode(m.cfg.DirFileMode)
		p.snapshotDir = stem + "-snapshots"
		if err := os.MkdirAll(p.snapshotDir, dirFileMode); err != nil {
			cleanup()
			return nil, fmt.Errorf("creating snapshot directory: %w", err)
		}
	}

	if p.encoder, err = m.factory(EncoderSpec{Kind: m.kind, Key: key}, f, p.onEncoderError); err != nil {
		cleanup()
		return nil, fmt.Errorf("starting encoder: %w", err)
	}

	p.log().WithField("file", file).Info("pipeline opened")
	return p, nil
}

// nextFile picks participant-{id}.ext, or participant-{id}-{n}.ext when
// earlier segments of the same stream already exist.
func (m *Manager) nextFile(key StreamKey) (string, os.FileMode, string, error) {
	ext := m.kind.Extension()
	for i := 0; i < maxSegments; i++ {
		name := key.BaseName()
		if i > 0 {
			name = fmt.Sprintf("%s-%d", name, i)
		}
		file, fileMode, err := ValidateAndPrepareFile(m.cfg, filepath.Join(key.Dir(), name+ext))
		if errors.Is(err, ErrFileExists) {
			continue
		}
		if err != nil {
			return "", 0, "", err
		}
		return file, fileMode, file[:len(file)-len(ext)], nil
	}
	return "", 0, "", fmt.Errorf("no free output file for %s after %d segments", key, maxSegments)
}

func (m *Manager) Get(key StreamKey) (*Pipeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[key]
	return p, ok
}

// Write hands data to the pipeline of key.
func (m *Manager) Write(key StreamKey, data []byte) error {
	p, ok := m.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPipelineNotFound, key)
	}
	return p.Write(data)
}

// Close deregisters the pipeline of key and finalizes its output. The
// registry is not locked while the encoder shuts down.
func (m *Manager) Close(key StreamKey) error {
	m.mu.Lock()
	p, ok := m.pipelines[key]
	delete(m.pipelines, key)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrPipelineNotFound, key)
	}

	appstats.OnPipelineClosed(string(m.kind))
	return p.close()
}

// Keys lists the streams of recordingID with a live pipeline.
func (m *Manager) Keys(recordingID string) []StreamKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []StreamKey
	for k := range m.pipelines {
		if k.RecordingID == recordingID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ParticipantID < keys[j].ParticipantID })
	return keys
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pipelines)
}

// CloseAll finalizes every pipeline.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	keys := make([]StreamKey, 0, len(m.pipelines))
	for k := range m.pipelines {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		if err := m.Close(k); err != nil && !errors.Is(err, ErrPipelineNotFound) {
			log.WithField("kind", m.kind).Warnf("closing %s: %s", k, err)
		}
	}
}
