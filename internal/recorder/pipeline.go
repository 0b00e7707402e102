package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recallai/separate-streams-recorder/internal/appstats"
	"github.com/recallai/separate-streams-recorder/internal/types"
	log "github.com/sirupsen/logrus"
)

var ErrPipelineClosed = errors.New("pipeline closed")

// Pipeline owns the output file and encoder of one stream. Only the Manager
// creates and closes pipelines.
type Pipeline struct {
	key      StreamKey
	kind     MediaKind
	path     string
	fileMode os.FileMode
	file     *os.File
	encoder  Encoder

	// optional side outputs
	raw         *os.File
	snapshotDir string

	createdAt time.Time

	mu           sync.Mutex
	closed       bool
	writes       int
	bytesWritten int64
	writeFailed  bool

	encoderErrors atomic.Int64
}

func (p *Pipeline) Key() StreamKey {
	return p.key
}

func (p *Pipeline) Kind() MediaKind {
	return p.kind
}

// Path is the encoded output file.
func (p *Pipeline) Path() string {
	return p.path
}

func (p *Pipeline) log() *log.Entry {
	return log.WithFields(log.Fields{
		"recording":   p.key.RecordingID,
		"participant": p.key.ParticipantID,
		"kind":        p.kind,
	})
}

func (p *Pipeline) onEncoderError(err error) {
	p.encoderErrors.Add(1)
	appstats.OnEncoderError(string(p.kind))
}

// Write feeds data to the encoder. Encoder failures are logged and counted
// but not returned; the stream keeps being accepted.
func (p *Pipeline) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}

	n, err := p.encoder.Write(data)
	p.writes++
	p.bytesWritten += int64(n)
	appstats.OnBytesWritten(string(p.kind), n)

	if err != nil {
		p.onEncoderError(err)
		if !p.writeFailed {
			p.writeFailed = true
			p.log().Errorf("encoder write failed, output will be incomplete: %s", err)
		} else {
			p.log().Tracef("encoder write failed: %s", err)
		}
	}
	return nil
}

// WriteRaw appends data to the raw PCM sibling file, if there is one.
func (p *Pipeline) WriteRaw(data []byte) {
	if p.raw == nil {
		return
	}
	if _, err := p.raw.Write(data); err != nil {
		p.log().Warnf("raw write failed: %s", err)
	}
}

// SnapshotPath is the file a frame received at relative is saved to.
func (p *Pipeline) SnapshotPath(relative float64) string {
	return filepath.Join(p.snapshotDir, "frame-"+strconv.FormatFloat(relative, 'f', -1, 64)+"s.png")
}

func (p *Pipeline) WriteSnapshot(relative float64, png []byte) {
	if p.snapshotDir == "" {
		return
	}
	file := p.SnapshotPath(relative)
	if err := os.WriteFile(file, png, p.fileMode); err != nil {
		p.log().Warnf("snapshot write failed %s: %s", file, err)
	}
}

func (p *Pipeline) fillStats(stats *types.StreamStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats.FilePath = p.path
	stats.Flushes = p.writes
	stats.BytesWritten = p.bytesWritten
	stats.EncoderErrors = int(p.encoderErrors.Load())
}

// close ends the encoder input, waits for the encoder to finish and then
// releases the output files.
func (p *Pipeline) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	if err := p.encoder.End(); err != nil {
		errs = append(errs, fmt.Errorf("ending encoder: %w", err))
	}
	if err := p.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing %s: %w", p.path, err))
	}
	if p.raw != nil {
		if err := p.raw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", p.raw.Name(), err))
		}
	}

	p.log().WithField("file", p.path).
		Infof("pipeline closed after %s", time.Since(p.createdAt).Round(time.Millisecond))
	return errors.Join(errs...)
}
