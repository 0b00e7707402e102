package recorder

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/recallai/separate-streams-recorder/internal/config"
	log "github.com/sirupsen/logrus"
)

const maxStderrLines = 50

// CheckEncoder verifies that the ffmpeg binary can be found.
func CheckEncoder(cfg config.Encoder) (string, error) {
	p, err := exec.LookPath(cfg.FFmpegPath)
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found at %q: %w", cfg.FFmpegPath, err)
	}
	return p, nil
}

// FFmpegArgs returns the command line for encoding kind from stdin to stdout.
func FFmpegArgs(kind MediaKind, logLevel string) []string {
	if logLevel == "" {
		logLevel = "error"
	}
	args := []string{"-hide_banner", "-nostdin", "-loglevel", logLevel}
	switch kind {
	case MediaKindAudio:
		args = append(args,
			"-f", "s16le", "-ar", "16000", "-ac", "1", "-i", "pipe:0",
			"-f", "mp3", "pipe:1",
		)
	case MediaKindVideo:
		args = append(args,
			"-f", "image2pipe", "-framerate", "2", "-i", "pipe:0",
			"-c:v", "libx264", "-pix_fmt", "yuv420p",
			"-movflags", "frag_keyframe+empty_moov",
			"-f", "mp4", "pipe:1",
		)
	}
	return args
}

type FFmpegEncoder struct {
	key          StreamKey
	kind         MediaKind
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	closeTimeout time.Duration
	onError      func(error)

	done    chan struct{}
	waitErr error
	endOnce sync.Once
	endErr  error

	stderrMu    sync.Mutex
	stderrLines []string
}

// NewFFmpegEncoderFactory returns a factory that spawns one ffmpeg process
// per stream.
func NewFFmpegEncoderFactory(cfg config.Encoder) EncoderFactory {
	return func(spec EncoderSpec, out io.Writer, onError func(error)) (Encoder, error) {
		return StartFFmpegEncoder(cfg, spec, out, onError)
	}
}

func StartFFmpegEncoder(cfg config.Encoder, spec EncoderSpec, out io.Writer, onError func(error)) (*FFmpegEncoder, error) {
	if !spec.Kind.Valid() {
		return nil, fmt.Errorf("unsupported media kind %q", spec.Kind)
	}
	if onError == nil {
		onError = func(error) {}
	}

	e := &FFmpegEncoder{
		key:          spec.Key,
		kind:         spec.Kind,
		cmd:          exec.Command(cfg.FFmpegPath, FFmpegArgs(spec.Kind, cfg.LogLevel)...),
		closeTimeout: cfg.CloseTimeout,
		onError:      onError,
		done:         make(chan struct{}),
		stderrLines:  make([]string, 0, maxStderrLines),
	}
	e.cmd.Stdout = out

	var err error
	if e.stdin, err = e.cmd.StdinPipe(); err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stderr, err := e.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := e.cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	e.log().Debugf("ffmpeg started, pid %d", e.cmd.Process.Pid)
	go e.wait(stderr)
	return e, nil
}

func (e *FFmpegEncoder) log() *log.Entry {
	return log.WithFields(log.Fields{
		"recording":   e.key.RecordingID,
		"participant": e.key.ParticipantID,
		"kind":        e.kind,
	})
}

func (e *FFmpegEncoder) wait(stderr io.Reader) {
	defer close(e.done)

	// stderr must be fully read before Wait closes it
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e.stderrMu.Lock()
		e.stderrLines = append(e.stderrLines, line)
		if len(e.stderrLines) > maxStderrLines {
			e.stderrLines = e.stderrLines[1:]
		}
		e.stderrMu.Unlock()
		e.log().Tracef("ffmpeg: %s", line)
	}

	if err := e.cmd.Wait(); err != nil {
		e.waitErr = fmt.Errorf("ffmpeg exited: %w", err)
		e.log().WithField("stderr", strings.Join(e.StderrLines(), "\n")).Error(e.waitErr)
		e.onError(e.waitErr)
	}
}

func (e *FFmpegEncoder) Write(p []byte) (int, error) {
	return e.stdin.Write(p)
}

// End closes ffmpeg's stdin and waits for it to exit, killing it once the
// close timeout expires.
func (e *FFmpegEncoder) End() error {
	e.endOnce.Do(func() {
		if err := e.stdin.Close(); err != nil {
			e.log().Debugf("closing ffmpeg stdin: %s", err)
		}

		var timeout <-chan time.Time
		if e.closeTimeout > 0 {
			t := time.NewTimer(e.closeTimeout)
			defer t.Stop()
			timeout = t.C
		}

		select {
		case <-e.done:
			e.endErr = e.waitErr
		case <-timeout:
			e.log().Warnf("ffmpeg did not exit within %s, killing it", e.closeTimeout)
			_ = e.cmd.Process.Kill()
			<-e.done
			e.endErr = fmt.Errorf("ffmpeg killed after %s", e.closeTimeout)
		}
	})
	return e.endErr
}

// StderrLines returns the most recent ffmpeg diagnostics.
func (e *FFmpegEncoder) StderrLines() []string {
	e.stderrMu.Lock()
	defer e.stderrMu.Unlock()
	lines := make([]string, len(e.stderrLines))
	copy(lines, e.stderrLines)
	return lines
}
