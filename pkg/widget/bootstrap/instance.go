package bootstrap

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatwidget/pkg/widget/chat"
	"github.com/go-go-golems/chatwidget/pkg/widget/config"
	"github.com/go-go-golems/chatwidget/pkg/widget/live"
	"github.com/go-go-golems/chatwidget/pkg/widget/page"
)

const mountFont = "-apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif"

// MountStyle is the inline style of a mount point pinned to position.
func MountStyle(position config.Position) string {
	side := "right"
	if position == config.PositionBottomLeft {
		side = "left"
	}
	return "position: fixed; bottom: 20px; " + side + ": 20px; z-index: 9999; font-family: " + mountFont
}

// Instance is one mounted widget. It owns its config cell, chat session,
// mount point and live channel; instances never share state.
type Instance struct {
	id       string
	clientID string
	registry *Registry
	logger   zerolog.Logger

	cell     *config.Cell
	session  *chat.Session
	mount    *page.Mount
	renderer *chat.HTMLRenderer
	unsub    func()

	ctx    context.Context
	cancel context.CancelFunc

	chMu    sync.Mutex
	channel *live.Channel

	renderMu  sync.Mutex
	destroyed bool
	renders   atomic.Int64

	destroyOnce sync.Once
}

func (i *Instance) ID() string {
	return i.id
}

func (i *Instance) ClientID() string {
	return i.clientID
}

// Config returns the current effective configuration.
func (i *Instance) Config() config.WidgetConfig {
	return i.cell.Snapshot().Config
}

func (i *Instance) Cell() *config.Cell {
	return i.cell
}

func (i *Instance) Session() *chat.Session {
	return i.session
}

func (i *Instance) Mount() *page.Mount {
	return i.mount
}

// Channel returns the live channel, nil when none was opened.
func (i *Instance) Channel() *live.Channel {
	i.chMu.Lock()
	defer i.chMu.Unlock()
	return i.channel
}

// Renders returns how many times the instance rendered, gated renders
// included.
func (i *Instance) Renders() int {
	return int(i.renders.Load())
}

// Refresh re-fetches the config document and overlays it unless a newer
// overlay arrives first. Failures are logged and returned, the config is
// left unchanged.
func (i *Instance) Refresh(ctx context.Context) error {
	seq := i.cell.Reserve()
	backend := i.registry.opts.Backend
	if t := i.registry.opts.FetchTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	started := time.Now()
	body, err := backend.FetchConfig(ctx, i.clientID)
	if err != nil {
		i.logger.Warn().Err(err).Msg("config fetch failed, keeping local config")
		return errors.Wrap(err, "fetch config")
	}
	_, applied, err := i.cell.Apply(seq, config.SourceFetch, body)
	if err != nil {
		i.logger.Warn().Err(err).Msg("config fetch returned a malformed document")
		return err
	}
	if !applied {
		i.logger.Debug().Uint64("seq", seq).Msg("discarding stale config fetch")
		return nil
	}
	i.logger.Debug().Dur("took", time.Since(started)).Msg("config fetched")
	return nil
}

// onFrame overlays one live-channel frame. Malformed frames are dropped.
func (i *Instance) onFrame(data []byte) {
	snap, _, err := i.cell.Push(data)
	if err != nil {
		i.logger.Warn().Err(err).Int("bytes", len(data)).Msg("ignoring malformed config push")
		return
	}
	i.logger.Debug().Uint64("seq", snap.Seq).Msg("config push applied")
}

func (i *Instance) openChannel() {
	base := i.registry.opts.RealtimeURL
	if base == "" {
		return
	}
	target, err := live.RealtimeURL(base, i.clientID)
	if err != nil {
		i.logger.Warn().Err(err).Msg("live channel disabled")
		return
	}

	opts := i.registry.opts.Live
	userOnConnect := opts.OnConnect
	opts.OnConnect = func(reconnect bool) {
		if reconnect {
			// catch up on pushes missed while disconnected
			go func() { _ = i.Refresh(i.ctx) }()
		}
		if userOnConnect != nil {
			userOnConnect(reconnect)
		}
	}
	if opts.Logger == nil {
		l := i.logger
		opts.Logger = &l
	}

	ch := live.Open(target, i.onFrame, opts)

	i.chMu.Lock()
	i.channel = ch
	i.chMu.Unlock()
}

// render draws the session into the mount point, honoring the render gate.
func (i *Instance) render() {
	i.renderMu.Lock()
	defer i.renderMu.Unlock()
	if i.destroyed {
		return
	}
	i.renders.Add(1)

	cfg := i.cell.Snapshot().Config
	i.session.SetProps(chat.Props{Theme: cfg.Theme, WelcomeMessage: cfg.WelcomeMessage})
	i.mount.SetStyle(MountStyle(cfg.Position))

	if !cfg.Renderable() {
		i.mount.Clear()
		i.notifyRender(cfg)
		return
	}

	fragment, err := i.renderer.Render(i.session.View())
	if err != nil {
		i.logger.Error().Err(err).Msg("render failed")
		return
	}
	if err := i.mount.SetContent(fragment); err != nil {
		i.logger.Error().Err(err).Msg("mount failed")
		return
	}
	i.notifyRender(cfg)
}

func (i *Instance) notifyRender(cfg config.WidgetConfig) {
	if fn := i.registry.opts.OnRender; fn != nil {
		fn(i, cfg)
	}
}

// Destroy closes the live channel, unmounts the session and removes the
// mount point. Each step runs even when an earlier one had nothing to
// release; calling Destroy again is a no-op.
func (i *Instance) Destroy() {
	i.destroyOnce.Do(func() {
		i.renderMu.Lock()
		i.destroyed = true
		i.renderMu.Unlock()

		i.cancel()
		if ch := i.Channel(); ch != nil {
			ch.Close()
		}
		if i.unsub != nil {
			i.unsub()
		}
		i.session.Close()
		i.mount.Remove()
		i.registry.forget(i.id)
		i.logger.Debug().Msg("widget destroyed")
	})
}
