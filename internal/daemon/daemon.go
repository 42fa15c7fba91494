// Package daemon wires every subsystem together and owns the process
// lifecycle: PID file acquisition with stale-lock recovery, constructing the
// bus/cache/router/observer/tracker/request-servers, running the periodic
// maintenance sweep, and a graceful SIGTERM/SIGINT shutdown path. Grounded on
// the teacher's cmd/dev-console/daemon_lifecycle.go takeover state machine,
// adapted from an HTTP-port lock to this daemon's PID-file-at-a-fixed-path
// model.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/axbridge/axd/internal/axobserver"
	"github.com/axbridge/axd/internal/config"
	"github.com/axbridge/axd/internal/enhance"
	"github.com/axbridge/axd/internal/eventbus"
	"github.com/axbridge/axd/internal/groups"
	"github.com/axbridge/axd/internal/hmacauth"
	"github.com/axbridge/axd/internal/redaction"
	"github.com/axbridge/axd/internal/refstore"
	"github.com/axbridge/axd/internal/remoteserver"
	"github.com/axbridge/axd/internal/rpcserver"
	"github.com/axbridge/axd/internal/snapcache"
	"github.com/axbridge/axd/internal/state"
	"github.com/axbridge/axd/internal/transport"
	"github.com/axbridge/axd/internal/webhook"
)

// ErrAlreadyRunning is returned by AcquirePIDFile when another live instance
// holds the lock.
var ErrAlreadyRunning = errors.New("already_running")

// ReaperInterval is how often the periodic maintenance sweep runs.
const ReaperInterval = "@every 30s"

// Daemon owns every long-lived subsystem and the servers exposing them.
type Daemon struct {
	Bus      *eventbus.Bus
	Cache    *snapcache.Cache
	Router   *transport.Router
	RefStore *refstore.Store
	Observer *axobserver.Observer
	Groups   *groups.Tracker
	Auth     *hmacauth.Manager

	log zerolog.Logger
	cfg config.Config

	sockPath string
	pidPath  string

	dispatcher *rpcserver.Dispatcher
	rpc        *rpcserver.Server
	remote     *remoteserver.Server
	handles    *handleIndex
	enhancers  *enhance.Registry

	procMu sync.Mutex
	procs  map[int]*watchedProcess

	webhooksMu sync.Mutex
	webhooks   map[string]*registeredWebhook

	cron      *cron.Cron
	startedAt time.Time

	shutdownOnce sync.Once
}

// New constructs a Daemon from cfg. Subsystems that need concrete transports
// (AX, CDP, host-script) are registered onto Router by the caller after
// construction, since those depend on platform-specific adapters this
// package does not own.
func New(cfg config.Config, log zerolog.Logger) (*Daemon, error) {
	sockPath, err := state.SockFile()
	if err != nil {
		return nil, err
	}
	pidPath, err := state.PIDFile()
	if err != nil {
		return nil, err
	}
	groupsPath, err := state.ProcessGroupsFile()
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	refs := refstore.New()
	d := &Daemon{
		Bus:      bus,
		Cache:    snapcache.New(),
		Router:   transport.NewRouter(),
		RefStore: refs,
		Observer: axobserver.New(bus),
		Groups:   groups.New(bus, groupsPath),
		Auth:     hmacauth.New([]byte(cfg.Remote.Secret)),
		log:      log,
		cfg:      cfg,
		sockPath: sockPath,
		pidPath:  pidPath,
		handles:   newHandleIndex(),
		enhancers: enhance.NewRegistry(refs),
		procs:     make(map[int]*watchedProcess),
		webhooks:  make(map[string]*registeredWebhook),
		startedAt: time.Now(),
	}
	d.dispatcher = rpcserver.NewDispatcher(bus)
	d.registerHandlers()
	return d, nil
}

// Dispatcher exposes the method dispatcher so the caller can register
// handlers before Start.
func (d *Daemon) Dispatcher() *rpcserver.Dispatcher { return d.dispatcher }

// RefResolver exposes the daemon's ref->handle index so the caller can wire
// a transport.AXTransport against it before Start.
func (d *Daemon) RefResolver() transport.RefResolver { return d.handles }

// registeredWebhook pairs a subscription with the bus subscription feeding
// it, so events.unsubscribe can tear both down together.
type registeredWebhook struct {
	sub        *webhook.Subscription
	busSubID   string
	filter     eventbus.Filter
}

// RegisterWebhook installs a named webhook subscription, subscribing it to
// the bus under filter and forwarding matched events to sub.HandleEvent
// until events.unsubscribe removes it. The periodic reaper's FlushIfDue
// sweep drives delivery for batches that see no further matching events.
func (d *Daemon) RegisterWebhook(name string, sub *webhook.Subscription, filter eventbus.Filter) {
	id, events, _ := d.Bus.Subscribe(filter)

	d.webhooksMu.Lock()
	d.webhooks[name] = &registeredWebhook{sub: sub, busSubID: id, filter: filter}
	d.webhooksMu.Unlock()

	go func() {
		for e := range events {
			sub.HandleEvent(context.Background(), e)
		}
	}()
}

// UnregisterWebhook tears down a named webhook subscription.
func (d *Daemon) UnregisterWebhook(name string) bool {
	d.webhooksMu.Lock()
	rw, ok := d.webhooks[name]
	if ok {
		delete(d.webhooks, name)
	}
	d.webhooksMu.Unlock()
	if !ok {
		return false
	}
	d.Bus.Unsubscribe(rw.busSubID)
	return true
}

// AcquirePIDFile implements the startup takeover policy: if the recorded PID
// is alive, refuse to start; if it is stale (process gone), reclaim the
// lock; otherwise write our own PID.
func (d *Daemon) AcquirePIDFile() error {
	existing, err := readPID(d.pidPath)
	if err != nil {
		return err
	}
	if existing > 0 && isProcessAlive(existing) {
		return ErrAlreadyRunning
	}
	return os.WriteFile(d.pidPath, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- fixed daemon state path, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, nil // corrupt lock file is treated as stale, not fatal
	}
	return pid, nil
}

func isProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Start runs the local socket server, the optional remote server, and the
// periodic reaper. It returns once ctx is cancelled and everything has shut
// down, or immediately with an error if the PID file could not be acquired.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.AcquirePIDFile(); err != nil {
		return err
	}

	if err := d.Groups.Load(); err != nil {
		d.log.Warn().Err(err).Msg("daemon: failed to load persisted process-group state")
	}

	d.rpc = rpcserver.NewServer(d.sockPath, d.dispatcher, d.log)

	if d.cfg.Remote.Enabled {
		d.remote = remoteserver.NewServer(
			remoteserver.Config{Bind: d.cfg.Remote.Bind, Port: d.cfg.Remote.Port, BlockedApps: d.cfg.Remote.BlockedApps},
			d.dispatcher, d.Auth, remoteserver.NewPeerRegistry(), redaction.NewRedactionEngine(""), nil, d.log,
		)
	}

	d.cron = cron.New()
	if _, err := d.cron.AddFunc(ReaperInterval, d.reap); err != nil {
		return fmt.Errorf("daemon: failed to schedule reaper: %w", err)
	}
	d.cron.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.rpc.ListenAndServe(ctx); err != nil {
			d.log.Error().Err(err).Msg("daemon: local request server exited")
		}
	}()

	if d.remote != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.remote.ListenAndServe(); err != nil {
				d.log.Error().Err(err).Msg("daemon: remote request server exited")
			}
		}()
	}

	<-ctx.Done()
	d.Shutdown()
	wg.Wait()
	return nil
}

// reap is the periodic maintenance sweep: purge expired ref tombstones,
// evict expired snapshot-cache entries, check every watched process for
// exit or idleness, and flush any webhook batch whose cooldown has elapsed
// with no further events arriving to trigger it.
func (d *Daemon) reap() {
	purged := d.RefStore.PurgeExpiredTombstones()
	evicted := d.Cache.Sweep()
	if purged > 0 || evicted > 0 {
		d.log.Debug().Int("tombstones_purged", purged).Int("cache_entries_evicted", evicted).Msg("daemon: reaper swept")
	}

	d.reapProcs()

	d.webhooksMu.Lock()
	subs := make([]*webhook.Subscription, 0, len(d.webhooks))
	for _, rw := range d.webhooks {
		subs = append(subs, rw.sub)
	}
	d.webhooksMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range subs {
		s.FlushIfDue(ctx)
	}
}

// Shutdown closes listeners, stops the reaper, and removes the socket and
// PID file. Safe to call multiple times.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		if d.cron != nil {
			d.cron.Stop()
		}
		if d.rpc != nil {
			_ = d.rpc.Close()
		}
		if d.remote != nil {
			_ = d.remote.Close()
		}
		_ = os.Remove(d.pidPath)
		d.log.Info().Msg("daemon: shutdown complete")
	})
}
