package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/wagiedev/nvim-bridge/internal/errors"
	"github.com/wagiedev/nvim-bridge/internal/event"
	"github.com/wagiedev/nvim-bridge/internal/rpc"
)

// guiEnterCommand fires GUIEnter autocommands once the UI is attached.
const guiEnterCommand = "doautocmd <nomodeline> GUIEnter"

type attachData struct {
	Columns int            `json:"columns"`
	Lines   int            `json:"lines"`
	Options map[string]any `json:"options,omitempty"`
}

type resizeData struct {
	Columns int `json:"columns"`
	Lines   int `json:"lines"`
}

type notifyData struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// HandleMessage decodes a raw JSON command from the UI and dispatches it.
func (b *Bridge) HandleMessage(ctx context.Context, raw []byte) error {
	var cmd event.Command

	if err := json.Unmarshal(raw, &cmd); err != nil {
		b.emitError("Invalid command: " + err.Error())

		return fmt.Errorf("decode command: %w", err)
	}

	if cmd.Command == "" {
		b.emitError("Invalid command: missing command name")

		return fmt.Errorf("decode command: missing command name")
	}

	return b.Dispatch(ctx, cmd)
}

// Dispatch executes one UI command.
//
// Requests and notifications are written to nvim before Dispatch returns,
// so commands reach nvim in the order they were dispatched. Waiting for call
// results happens on background goroutines; failures are reported as
// system/error events.
func (b *Bridge) Dispatch(ctx context.Context, cmd event.Command) error {
	if err := b.checkStarted(); err != nil {
		return err
	}

	if err := b.validator.validate(cmd.Command, cmd.Data); err != nil {
		b.emitError(fmt.Sprintf("Invalid %s command: %s", cmd.Command, err))

		return fmt.Errorf("invalid %s command: %w", cmd.Command, err)
	}

	b.log.Debug("Dispatching UI command", "command", cmd.Command)

	switch cmd.Command {
	case CommandAttach:
		var data attachData
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return b.invalid(cmd.Command, err)
		}

		return b.attach(ctx, data)

	case CommandResize:
		var data resizeData
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return b.invalid(cmd.Command, err)
		}

		return b.notify(ctx, "nvim_ui_try_resize", data.Columns, data.Lines)

	case CommandInput:
		var keys string
		if err := json.Unmarshal(cmd.Data, &keys); err != nil {
			return b.invalid(cmd.Command, err)
		}

		return b.notify(ctx, "nvim_input", keys)

	case CommandCommand:
		var command string
		if err := json.Unmarshal(cmd.Data, &command); err != nil {
			return b.invalid(cmd.Command, err)
		}

		return b.call(ctx, "nvim_command", []any{command}, func(_ any, err error) {
			if err != nil {
				b.reportCallError("Failed to execute command: ", err)
			}
		})

	case CommandDetach:
		return b.call(ctx, "nvim_ui_detach", nil, func(_ any, err error) {
			if err != nil {
				b.reportCallError("Failed to detach from neovim UI: ", err)
			}
		})

	case CommandNotify:
		var data notifyData
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return b.invalid(cmd.Command, err)
		}

		return b.notify(ctx, data.Method, data.Params...)

	case CommandSetTitle:
		var title string
		if err := json.Unmarshal(cmd.Data, &title); err != nil {
			return b.invalid(cmd.Command, err)
		}

		b.surface.SetTitle(title)

		return nil

	case CommandBell:
		b.surface.Bell()

		return nil

	default:
		b.log.Warn("Ignoring unknown UI command", "command", cmd.Command)

		return nil
	}
}

// attach sends nvim_ui_attach and, once it succeeds, fires GUIEnter.
func (b *Bridge) attach(ctx context.Context, data attachData) error {
	options := map[string]any{"rgb": true}
	maps.Copy(options, data.Options)

	return b.call(ctx, "nvim_ui_attach", []any{data.Columns, data.Lines, options}, func(_ any, err error) {
		if err != nil {
			b.reportCallError("Failed to attach to neovim UI: ", err)

			return
		}

		b.log.Info("UI attached", "columns", data.Columns, "lines", data.Lines)

		// The follow-up is not tied to the UI command's context.
		if _, err := b.session.Request(b.ctx, "nvim_command", guiEnterCommand); err != nil {
			b.log.Warn("Failed to run GUIEnter autocommands", "error", err)
		}
	})
}

func (b *Bridge) invalid(command string, err error) error {
	b.emitError(fmt.Sprintf("Invalid %s command: %s", command, err))

	return fmt.Errorf("invalid %s command: %w", command, err)
}

func (b *Bridge) notify(ctx context.Context, method string, params ...any) error {
	if !b.transport.IsReady() {
		return errors.ErrTransportNotConnected
	}

	if err := b.session.Notify(ctx, method, params...); err != nil {
		b.log.Warn("Failed to send notification", "method", method, "error", err)

		return err
	}

	return nil
}

// call writes a request now and hands its outcome to done on a tracked
// goroutine. The wait is bounded by the call timeout, if any.
func (b *Bridge) call(ctx context.Context, method string, params []any, done func(any, error)) error {
	if !b.transport.IsReady() {
		return errors.ErrTransportNotConnected
	}

	c, err := b.session.Call(ctx, method, params...)
	if err != nil {
		b.log.Warn("Failed to send request", "method", method, "error", err)
		done(nil, err)

		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ErrBridgeClosed
	}

	b.goTracked(func() error {
		result, err := b.wait(c)
		done(result, err)

		return nil
	})

	return nil
}

// wait blocks until c resolves, the call timeout expires or the bridge closes.
func (b *Bridge) wait(c *rpc.Call) (any, error) {
	ctx := b.ctx

	if timeout := b.options.CallTimeout; timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeoutCause(ctx, timeout,
			fmt.Errorf("%w: %s after %s", errors.ErrRequestTimeout, c.Method, timeout))
		defer cancel()
	}

	return c.Wait(ctx)
}
