// Package source provides the byte streams the pipeline ingests: raw
// little-endian 16-bit mono PCM at the pipeline sample rate.
package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/streamwhisper/internal/audio"
)

// ErrNoCommand is returned when a command source has nothing to run.
var ErrNoCommand = errors.New("source: no command configured")

// Source is a PCM16LE byte stream. Read returning io.EOF ends the stream.
type Source interface {
	io.Reader
	Name() string
	Close() error
}

// StreamCommand builds the default shell pipeline that pulls a live stream
// with streamlink and converts it to raw mono PCM with ffmpeg.
func StreamCommand(url string, sampleRate int) string {
	return fmt.Sprintf(
		"streamlink %q best -O 2>/dev/null | ffmpeg -hide_banner -loglevel error -i - -f s16le -ac 1 -ar %d -",
		url, sampleRate)
}

// waitDelay bounds how long Close waits for pipes held open by children of
// the shell.
const waitDelay = 2 * time.Second

// Command runs a shell pipeline and reads its stdout.
type Command struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	line   string

	once sync.Once
	err  error
}

// NewCommand starts `sh -c line`. The process is killed when ctx is done or
// Close is called.
func NewCommand(ctx context.Context, line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ErrNoCommand
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	cmd.WaitDelay = waitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("source command stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("source command stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start source command: %w", err)
	}
	c := &Command{cmd: cmd, stdout: stdout, line: line}
	go c.logStderr(stderr)
	log.Info().Int("pid", cmd.Process.Pid).Str("command", line).Msg("source command started")
	return c, nil
}

func (c *Command) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		log.Warn().Str("source", "command").Msg(line)
	}
}

func (c *Command) Read(p []byte) (int, error) { return c.stdout.Read(p) }

func (c *Command) Name() string { return "command" }

// Close kills the process if it is still running and reaps it.
func (c *Command) Close() error {
	c.once.Do(func() {
		_ = c.cmd.Process.Kill()
		err := c.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			c.err = fmt.Errorf("wait source command: %w", err)
		}
		log.Info().Str("command", c.line).Msg("source command stopped")
	})
	return c.err
}

// Reader adapts any reader, typically os.Stdin.
type Reader struct {
	r    io.Reader
	name string
}

func NewReader(r io.Reader, name string) *Reader {
	return &Reader{r: r, name: name}
}

func Stdin() *Reader { return NewReader(os.Stdin, "stdin") }

func (r *Reader) Read(p []byte) (int, error) { return r.r.Read(p) }

func (r *Reader) Name() string { return r.name }

func (r *Reader) Close() error {
	if c, ok := r.r.(io.Closer); ok && r.r != os.Stdin {
		return c.Close()
	}
	return nil
}

// WAVFile serves a decoded WAV file as PCM16LE at the pipeline rate.
// When paced, reads never run ahead of the wall clock, so a recording is
// ingested like a live stream.
type WAVFile struct {
	r       *bytes.Reader
	path    string
	seconds float64

	paced       bool
	bytesPerSec float64
	started     time.Time
	served      int
	now         func() time.Time
	sleep       func(time.Duration)
}

// OpenWAV decodes path, down-mixes it to mono and resamples it to sampleRate.
func OpenWAV(path string, sampleRate int, paced bool) (*WAVFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav source: %w", err)
	}
	defer f.Close()

	samples, rate, err := audio.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	samples = audio.ResampleLinear(samples, rate, sampleRate)
	log.Info().Str("path", path).Int("src_rate", rate).Int("rate", sampleRate).Int("samples", len(samples)).Bool("paced", paced).Msg("wav source loaded")
	return &WAVFile{
		r:           bytes.NewReader(audio.EncodePCM16LE(samples)),
		path:        path,
		seconds:     float64(len(samples)) / float64(sampleRate),
		paced:       paced,
		bytesPerSec: float64(sampleRate * 2),
		now:         time.Now,
		sleep:       time.Sleep,
	}, nil
}

func (w *WAVFile) Read(p []byte) (int, error) {
	if w.paced {
		now := w.now()
		if w.started.IsZero() {
			w.started = now
		}
		ahead := float64(w.served)/w.bytesPerSec - now.Sub(w.started).Seconds()
		if ahead > 0 {
			w.sleep(time.Duration(ahead * float64(time.Second)))
		}
	}
	n, err := w.r.Read(p)
	w.served += n
	return n, err
}

func (w *WAVFile) Name() string { return "wav:" + w.path }

// Seconds is the duration of the decoded audio.
func (w *WAVFile) Seconds() float64 { return w.seconds }

func (w *WAVFile) Close() error { return nil }
