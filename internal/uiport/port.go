package uiport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"

	"github.com/wagiedev/nvim-bridge/internal/config"
	"github.com/wagiedev/nvim-bridge/internal/event"
)

const (
	// MaxMessageSize bounds a single inbound command.
	MaxMessageSize = 16 * 1024 * 1024 // 16MB

	// Event names for cosmetic effects.
	NameTitle = "title"
	NameBell  = "bell"
)

// Port is a UI surface backed by a JSON stream.
//
// Commands are read from r and events are written to w, either as
// newline-delimited JSON or as 4-byte little-endian length-prefixed frames.
type Port struct {
	log     *slog.Logger
	r       io.Reader
	framing string

	mu sync.Mutex // Serializes writes to w
	w  io.Writer
}

// Compile-time verification that Port implements event.Surface.
var _ event.Surface = (*Port)(nil)

// New creates a port. framing is config.FramingLines or config.FramingFrames.
func New(log *slog.Logger, r io.Reader, w io.Writer, framing string) (*Port, error) {
	switch framing {
	case config.FramingLines, config.FramingFrames:
	default:
		return nil, fmt.Errorf("unknown framing %q", framing)
	}

	return &Port{
		log:     log.With("component", "uiport", "framing", framing),
		r:       r,
		w:       w,
		framing: framing,
	}, nil
}

// Commands yields raw command payloads until the input ends.
//
// A clean end of input stops the sequence without an error. A read error or
// an oversized message is yielded once and ends the sequence. ctx is
// checked between messages; a blocked read is only released by closing r.
func (p *Port) Commands(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		next := p.lineReader()
		if p.framing == config.FramingFrames {
			next = p.frameReader()
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)

				return
			}

			msg, err := next()
			if err == io.EOF {
				p.log.Debug("UI input ended")

				return
			}

			if err != nil {
				yield(nil, err)

				return
			}

			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (p *Port) lineReader() func() ([]byte, error) {
	scanner := bufio.NewScanner(p.r)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)

	return func() ([]byte, error) {
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			return bytes.Clone(line), nil
		}

		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read command line: %w", err)
		}

		return nil, io.EOF
	}
}

func (p *Port) frameReader() func() ([]byte, error) {
	return func() ([]byte, error) {
		var length uint32
		if err := binary.Read(p.r, binary.LittleEndian, &length); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}

			return nil, fmt.Errorf("read frame length: %w", err)
		}

		if length > MaxMessageSize {
			return nil, fmt.Errorf("command frame of %d bytes exceeds %d", length, MaxMessageSize)
		}

		buf := make([]byte, length)
		if _, err := io.ReadFull(p.r, buf); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}

		return buf, nil
	}
}

// Send writes one event. Concurrent calls never interleave and a slow
// reader blocks the caller.
func (p *Port) Send(ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s/%s event: %w", ev.Scope, ev.Name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.framing == config.FramingFrames {
		if err := binary.Write(p.w, binary.LittleEndian, uint32(len(payload))); err != nil {
			return fmt.Errorf("write frame length: %w", err)
		}

		_, err = p.w.Write(payload)

		return err
	}

	_, err = p.w.Write(append(payload, '\n'))

	return err
}

// Emit implements event.Surface. Failures are logged.
func (p *Port) Emit(ev event.Event) {
	if err := p.Send(ev); err != nil {
		p.log.Warn("Failed to emit event", "scope", ev.Scope, "name", ev.Name, "error", err)
	}
}

// SetTitle implements event.Surface as a window/title event.
func (p *Port) SetTitle(title string) {
	p.Emit(event.Event{Scope: event.ScopeWindow, Name: NameTitle, Payload: title})
}

// Bell implements event.Surface as a window/bell event.
func (p *Port) Bell() {
	p.Emit(event.Event{Scope: event.ScopeWindow, Name: NameBell})
}
