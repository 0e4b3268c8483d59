// Package app wires the client together: store backend, identity
// provider, session lifecycle and the per-identity components that hang
// off it. Everything derived from an identity (message stream, presence
// tracker, reaction merger) is created on sign-in and torn down, in
// order, on sign-out before anything re-subscribes.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"

	"rownak/internal/ui"
	"rownak/pkg/auth"
	"rownak/pkg/banner"
	"rownak/pkg/blob"
	"rownak/pkg/chat"
	"rownak/pkg/config"
	"rownak/pkg/logger"
	"rownak/pkg/models"
	"rownak/pkg/notify"
	"rownak/pkg/presence"
	"rownak/pkg/profile"
	"rownak/pkg/ratelimit"
	"rownak/pkg/reactions"
	"rownak/pkg/session"
	"rownak/pkg/state"
	"rownak/pkg/store"
	"rownak/pkg/store/memstore"
	"rownak/pkg/store/pebblestore"
	"rownak/pkg/store/wsstore"
)

// App owns the client components and lifecycle.
type App struct {
	cfg       *config.Config
	version   string
	commit    string
	buildDate string

	root     string
	st       store.Client
	authc    *auth.Client
	sessions *session.Manager
	blobc    *blob.Client
	notifier *notify.Registrar
	profiles *profile.Updater
	term     *ui.Terminal

	mu     sync.Mutex
	runCtx context.Context
	cur    *active
}

// active is the per-identity component set.
type active struct {
	uid         string
	stream      *chat.Stream
	tracker     *presence.Tracker
	merger      *reactions.Merger
	sweepCancel context.CancelFunc
}

// New initializes everything that does not need a running context:
// state dirs, the store backend and the service clients. Call Run to
// start the session and the terminal loop.
func New(cfg *config.Config, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")
	logger.InitWithLevel(cfg.Logging.Level)

	root, err := state.Root()
	if err != nil {
		return nil, err
	}
	if err := state.EnsureDirs(root); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, version: version, commit: commit, buildDate: buildDate, root: root}

	a.st, err = openStore(cfg, root)
	if err != nil {
		return nil, err
	}

	a.authc = auth.New(cfg.Auth.Endpoint, cfg.Auth.APIKey)
	a.sessions = session.NewManager(a.authc, state.SessionFile(root))
	a.blobc = blob.New(cfg.Blob.Endpoint, int64(cfg.Blob.MaxUploadSize))
	a.notifier = notify.New(cfg.Notify.Endpoint, cfg.Notify.VapidKey)
	a.term = ui.NewTerminal(os.Stdin, os.Stdout, a)
	a.profiles = profile.NewUpdater(a.authc, a.blobc, a.sessions, a.term.SetBanner)
	return a, nil
}

func openStore(cfg *config.Config, root string) (store.Client, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memstore.New().NewClient(), nil
	case "pebble":
		dir := cfg.Store.DBPath
		if dir == "" {
			dir = state.StoreDir(root)
		}
		st, err := pebblestore.Open(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble at %s: %w", dir, err)
		}
		return st, nil
	case "remote":
		c, err := wsstore.Dial(context.Background(), cfg.Store.URL)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Run prints the banner, starts the debug listener, restores any
// persisted session and blocks in the terminal loop until ctx is
// canceled or the user quits.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.cfg, verStr)

	stopDebug := a.startDebug(ctx)
	defer stopDebug()

	unsub := a.sessions.OnChange(a.onIdentity)
	defer unsub()

	a.sessions.Restore()

	err := a.term.Run(ctx)

	a.deactivate()
	if cerr := a.st.Close(); cerr != nil {
		logger.Warn("store_close_failed", "error", cerr)
	}
	return err
}

// onIdentity reacts to session transitions. Same-uid changes are
// profile updates: the live subscriptions stay attached and only the
// sender identity is swapped.
func (a *App) onIdentity(id *models.Identity) {
	a.mu.Lock()
	cur := a.cur
	ctx := a.runCtx
	a.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if id == nil {
		a.deactivate()
		return
	}
	if cur != nil && cur.uid == id.UID {
		cur.stream.SetIdentity(*id)
		a.term.Render()
		return
	}
	if cur != nil {
		a.deactivate()
	}
	a.activate(ctx, *id)
}

func (a *App) activate(ctx context.Context, id models.Identity) {
	sendLim := ratelimit.NewPool(a.cfg.Limits.SendRPS, a.cfg.Limits.SendBurst)
	reactLim := ratelimit.NewPool(a.cfg.Limits.ReactRPS, a.cfg.Limits.ReactBurst)

	stream := chat.NewStream(a.st, id, a.term.RenderMessages, a.term.Focus, sendLim)
	tracker := presence.NewTracker(a.st, id.UID, a.term.RenderPresence, presence.Options{
		ForceHeartbeat:    a.cfg.Presence.Mode == "heartbeat",
		HeartbeatInterval: a.cfg.Presence.HeartbeatInterval.Std(),
	})
	merger := reactions.NewMerger(a.st, reactLim)

	if err := stream.Start(ctx); err != nil {
		logger.Error("stream_start_failed", "uid", id.UID, "error", err)
		return
	}
	if err := tracker.Start(ctx); err != nil {
		logger.Error("presence_start_failed", "uid", id.UID, "error", err)
		stream.Stop()
		return
	}

	act := &active{uid: id.UID, stream: stream, tracker: tracker, merger: merger}

	sw, err := presence.NewSweeper(tracker, a.cfg.Presence.SweepCron, a.cfg.Presence.StaleAfter.Std())
	if err != nil {
		logger.Warn("presence_sweeper_disabled", "error", err)
	} else {
		swCtx, cancel := context.WithCancel(ctx)
		act.sweepCancel = cancel
		go sw.Run(swCtx)
	}

	go a.notifier.Register(ctx, id)

	a.mu.Lock()
	a.cur = act
	a.mu.Unlock()
	logger.Info("identity_active", "uid", id.UID)
}

// deactivate tears down the per-identity components. Order matters:
// the presence offline write goes out while the store client is still
// live, then subscriptions are released.
func (a *App) deactivate() {
	a.mu.Lock()
	act := a.cur
	a.cur = nil
	ctx := a.runCtx
	a.mu.Unlock()
	if act == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if act.sweepCancel != nil {
		act.sweepCancel()
	}
	act.tracker.Stop(ctx)
	act.stream.Stop()
	logger.Info("identity_torn_down", "uid", act.uid)
}

func (a *App) withActive(fn func(*active) error) error {
	a.mu.Lock()
	act := a.cur
	a.mu.Unlock()
	if act == nil {
		return auth.ErrNoSession
	}
	return fn(act)
}

// The methods below implement ui.Actions.

func (a *App) SignIn(ctx context.Context, email, password string) error {
	return a.sessions.SignIn(ctx, email, password)
}

func (a *App) SignUp(ctx context.Context, email, password string) error {
	return a.sessions.SignUp(ctx, email, password)
}

func (a *App) SignOut() { a.sessions.SignOut() }

func (a *App) SignedIn() *models.Identity { return a.sessions.Current() }

func (a *App) Send(ctx context.Context, text string) error {
	return a.withActive(func(act *active) error { return act.stream.Send(ctx, text) })
}

func (a *App) Reply(m models.Message) {
	_ = a.withActive(func(act *active) error { act.stream.BeginReply(m); return nil })
}

func (a *App) CancelReply() {
	_ = a.withActive(func(act *active) error { act.stream.CancelReply(); return nil })
}

func (a *App) ReplyTarget() (models.Message, bool) {
	var m models.Message
	var ok bool
	_ = a.withActive(func(act *active) error { m, ok = act.stream.ReplyTarget(); return nil })
	return m, ok
}

func (a *App) React(ctx context.Context, messageID, emoji string) error {
	id := a.sessions.Current()
	if id == nil {
		return auth.ErrNoSession
	}
	return a.withActive(func(act *active) error {
		return act.merger.Toggle(ctx, messageID, emoji, id.UID)
	})
}

func (a *App) Messages() []models.Message {
	var out []models.Message
	_ = a.withActive(func(act *active) error { out = act.stream.Messages(); return nil })
	return out
}

func (a *App) Statuses() map[string]models.PresenceRecord {
	out := map[string]models.PresenceRecord{}
	_ = a.withActive(func(act *active) error { out = act.tracker.Statuses(); return nil })
	return out
}

func (a *App) UpdateProfile(ctx context.Context, displayName, avatarFile string) error {
	var data []byte
	var name string
	if avatarFile != "" {
		b, err := os.ReadFile(avatarFile)
		if err != nil {
			return err
		}
		data = b
		name = filepath.Base(avatarFile)
	}
	return a.profiles.Update(ctx, displayName, data, name)
}

func (a *App) ToggleTheme() string { return state.ToggleTheme(a.root) }
