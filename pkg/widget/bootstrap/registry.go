// Package bootstrap discovers widget markers in a host document and runs
// one independent widget instance per marker.
package bootstrap

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatwidget/pkg/widget/chat"
	"github.com/go-go-golems/chatwidget/pkg/widget/config"
	"github.com/go-go-golems/chatwidget/pkg/widget/live"
	"github.com/go-go-golems/chatwidget/pkg/widget/page"
)

var ErrMissingClientID = errors.New("clientId is required")

// Backend is everything an instance needs from the widget API.
type Backend interface {
	chat.Sender
	FetchConfig(ctx context.Context, clientID string) ([]byte, error)
}

type Options struct {
	Backend Backend
	// RealtimeURL is the base of the live channel endpoint. Empty disables
	// live updates.
	RealtimeURL  string
	FetchTimeout time.Duration
	ReplyTimeout time.Duration
	Live         live.Options
	// OnRender runs after every render while the instance's render lock
	// is held. It must not block on the instance.
	OnRender func(inst *Instance, cfg config.WidgetConfig)
	Logger   *zerolog.Logger
}

// InstanceConfig is what a host provides for one widget.
type InstanceConfig struct {
	ClientID string
	Position config.Position
}

// Registry owns every instance it constructed.
type Registry struct {
	opts     Options
	logger   zerolog.Logger
	renderer *chat.HTMLRenderer

	mu        sync.Mutex
	next      int
	instances map[string]*Instance
	order     []string
}

// noBackend fails every call, so a registry without a backend still
// mounts widgets with local config and apologizes on every chat.
type noBackend struct{}

var errNoBackend = errors.New("no widget backend configured")

func (noBackend) Send(context.Context, chat.Request) (string, error) {
	return "", errNoBackend
}

func (noBackend) FetchConfig(context.Context, string) ([]byte, error) {
	return nil, errNoBackend
}

func NewRegistry(opts Options) *Registry {
	logger := log.With().Str("component", "bootstrap").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Backend == nil {
		opts.Backend = noBackend{}
	}
	return &Registry{
		opts:      opts,
		logger:    logger,
		renderer:  chat.NewHTMLRenderer(),
		instances: map[string]*Instance{},
	}
}

// Discover waits for doc to become interactive, then constructs one
// instance per marker, concurrently. Instances are returned in document
// order. The only error is ctx ending before the document is ready.
func (r *Registry) Discover(ctx context.Context, doc *page.Document) ([]*Instance, error) {
	select {
	case <-doc.Ready():
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting for document")
	}

	markers := doc.Markers()
	ret := make([]*Instance, len(markers))
	var g errgroup.Group
	for idx, m := range markers {
		g.Go(func() error {
			inst, err := r.Construct(ctx, doc, InstanceConfig{
				ClientID: m.ClientID,
				Position: config.ParsePosition(m.Position),
			})
			if err != nil {
				r.logger.Error().Err(err).Int("marker", idx).Msg("widget construction failed")
				return nil
			}
			ret[idx] = inst
			return nil
		})
	}
	_ = g.Wait()

	out := lo.Compact(ret)
	r.logger.Info().Int("markers", len(markers)).Int("instances", len(out)).Msg("widgets discovered")
	return out, nil
}

// Construct fetches the tenant config, mounts and renders the chat session
// and opens the live channel. Fetch and channel failures are logged; the
// only error is a missing client id.
func (r *Registry) Construct(ctx context.Context, doc *page.Document, cfg InstanceConfig) (*Instance, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, ErrMissingClientID
	}

	r.mu.Lock()
	r.next++
	id := "widget-" + strconv.Itoa(r.next)
	r.mu.Unlock()

	instCtx, cancel := context.WithCancel(context.Background())
	inst := &Instance{
		id:       id,
		clientID: clientID,
		registry: r,
		logger:   r.logger.With().Str("instance_id", id).Str("client_id", clientID).Logger(),
		cell:     config.NewCell(clientID, config.Seed(cfg.Position)),
		renderer: r.renderer,
		ctx:      instCtx,
		cancel:   cancel,
	}

	_ = inst.Refresh(ctx)

	inst.mount = doc.CreateMount(id, MountStyle(inst.Config().Position))
	inst.session = chat.NewSession(clientID, r.opts.Backend,
		chat.WithReplyTimeout(r.opts.ReplyTimeout),
		chat.WithOnChange(inst.render),
		chat.WithLogger(inst.logger.With().Str("component", "chat").Logger()),
	)
	inst.unsub = inst.cell.Subscribe(func(config.Snapshot) { inst.render() })
	inst.render()

	r.mu.Lock()
	r.instances[id] = inst
	r.order = append(r.order, id)
	r.mu.Unlock()

	inst.openChannel()
	inst.logger.Info().Str("position", string(inst.Config().Position)).Msg("widget mounted")
	return inst, nil
}

// Get returns the instance with the given id.
func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Instances returns the live instances in construction order.
func (r *Registry) Instances() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(r.order, func(id string, _ int) *Instance {
		return r.instances[id]
	})
}

// Destroy tears down one instance. It reports whether id was known.
func (r *Registry) Destroy(id string) bool {
	inst, ok := r.Get(id)
	if !ok {
		return false
	}
	inst.Destroy()
	return true
}

func (r *Registry) DestroyAll() {
	for _, inst := range r.Instances() {
		inst.Destroy()
	}
}

func (r *Registry) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
	for idx, v := range r.order {
		if v == id {
			r.order = append(r.order[:idx], r.order[idx+1:]...)
			break
		}
	}
}
