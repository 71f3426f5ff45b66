package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/foxseedlab/voicememo/external/capture"
	"github.com/foxseedlab/voicememo/external/realtime"
	"github.com/foxseedlab/voicememo/internal/audio"
	"github.com/foxseedlab/voicememo/internal/client"
	"github.com/foxseedlab/voicememo/internal/protocol"
	"github.com/foxseedlab/voicememo/internal/transcript"
)

const finishTimeout = 30 * time.Second

type options struct {
	server   string
	language string
	input    string
	format   string
	rate     int
	frame    time.Duration
	interval time.Duration
	encoding string
	upload   bool
	realtime bool
	verbose  bool
}

func main() {
	var opts options
	flag.StringVar(&opts.server, "server", "http://localhost:3000", "backend base URL")
	flag.StringVar(&opts.language, "lang", "", "recognition language (server default when empty)")
	flag.StringVar(&opts.input, "input", capture.Stdin, "audio file, or - for stdin")
	flag.StringVar(&opts.format, "format", capture.FormatWAV, "input format: s16le, f32le or wav")
	flag.IntVar(&opts.rate, "rate", 16000, "sample rate of raw input")
	flag.DurationVar(&opts.frame, "frame", capture.DefaultFrameDuration, "capture frame length")
	flag.DurationVar(&opts.interval, "interval", client.DefaultChunkInterval, "how often audio is sent")
	flag.StringVar(&opts.encoding, "encoding", "pcm", "chunk encoding: pcm or wav")
	flag.BoolVar(&opts.upload, "upload", false, "send the whole recording over HTTP instead of streaming")
	flag.BoolVar(&opts.realtime, "realtime", false, "pace file input at real-time speed")
	flag.BoolVar(&opts.verbose, "v", false, "verbose logging")
	flag.Parse()

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printer := &transcriptPrinter{w: os.Stdout}
	events := transcript.NewQueue(printer.print)
	defer events.Close()

	var err error
	if opts.upload {
		err = runUpload(ctx, opts, events)
	} else {
		err = runStreaming(ctx, opts, events)
	}
	events.Sync()
	printer.done(events.Snapshot())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runStreaming(ctx context.Context, opts options, events *transcript.Queue) error {
	wsURL, err := endpoint(opts.server, "/ws", true)
	if err != nil {
		return err
	}
	encoding := audio.EncodingLinear16
	if opts.encoding == "wav" {
		encoding = audio.EncodingWAV
	}

	capturer := capture.NewFileCapturer(capture.Options{
		Path:          opts.input,
		Format:        opts.format,
		SampleRate:    opts.rate,
		FrameDuration: opts.frame,
		Realtime:      opts.realtime,
	})
	failed := make(chan error, 1)
	rec := client.NewRecorder(capturer, realtime.NewDialer(wsURL, nil), events, client.RecorderOptions{
		Language: opts.language,
		Interval: opts.interval,
		Encoding: encoding,
	}, func(state client.State, status string) {
		slog.Info("status", "state", state.String(), "status", status)
		if state == client.StateFailed {
			select {
			case failed <- errors.New(status):
			default:
			}
		}
	})

	if err := rec.Start(ctx); err != nil {
		return err
	}
	select {
	case <-rec.InputDone():
	case <-ctx.Done():
	case err := <-failed:
		rec.Stop()
		return err
	}

	finishCtx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	rec.Finish(finishCtx)

	select {
	case err := <-failed:
		return err
	default:
		return nil
	}
}

func runUpload(ctx context.Context, opts options, events *transcript.Queue) error {
	uploadURL, err := endpoint(opts.server, "/api/speech-to-text", false)
	if err != nil {
		return err
	}
	data, err := readInput(opts.input)
	if err != nil {
		return err
	}

	name := "recording.wav"
	switch opts.format {
	case capture.FormatWAV:
		if opts.input != capture.Stdin {
			name = filepath.Base(opts.input)
		}
	case capture.FormatS16LE:
		if data, err = audio.EncodeWAV(audio.BytesToInt16(data), opts.rate); err != nil {
			return err
		}
	case capture.FormatF32LE:
		if data, err = audio.EncodeWAV(audio.Float32ToInt16(audio.BytesToFloat32(data)), opts.rate); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", audio.ErrUnsupportedEncoding, opts.format)
	}

	return client.Upload(ctx, nil, uploadURL, opts.language, name, data, func(r protocol.RecognitionResult) {
		events.Push(r.Event())
	})
}

func readInput(path string) ([]byte, error) {
	if path == capture.Stdin {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrPermission) {
		return nil, fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	return data, nil
}

// endpoint resolves path against the server base URL, switching to the
// WebSocket scheme when ws is set.
func endpoint(base, path string, ws bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	if ws {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		case "http":
			u.Scheme = "ws"
		}
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}

type transcriptPrinter struct {
	w    io.Writer
	last string
}

// print rewrites the current line with finals followed by the interim in
// brackets.
func (p *transcriptPrinter) print(t transcript.Transcript) {
	line := t.Final
	if t.Interim != "" {
		line += "[" + t.Interim + "]"
	}
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintf(p.w, "\r\033[K%s", line)
}

func (p *transcriptPrinter) done(t transcript.Transcript) {
	fmt.Fprintf(p.w, "\r\033[K%s\n", strings.TrimSpace(t.Final))
}
