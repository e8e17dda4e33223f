// Package app assembles an interactive termpal session: the agent with its
// tools, the reminder scheduler, notifications and the REPL that drives them.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/termpal/internal/agent"
	"github.com/stellarlinkco/termpal/internal/bus"
	"github.com/stellarlinkco/termpal/internal/config"
	"github.com/stellarlinkco/termpal/internal/conversation"
	"github.com/stellarlinkco/termpal/internal/credentials"
	"github.com/stellarlinkco/termpal/internal/cron"
	"github.com/stellarlinkco/termpal/internal/model"
	"github.com/stellarlinkco/termpal/internal/notify"
	"github.com/stellarlinkco/termpal/internal/oauth"
	"github.com/stellarlinkco/termpal/internal/skills"
	"github.com/stellarlinkco/termpal/internal/tasks"
	"github.com/stellarlinkco/termpal/internal/tool"
	"github.com/stellarlinkco/termpal/internal/tool/builtin"
)

const busSize = 64

// ClientFactory creates the model client (allows mocking in tests).
type ClientFactory func(ctx context.Context, cfg *config.Config) (model.Client, error)

// Options for creating an App
type Options struct {
	ClientFactory ClientFactory
	SignalChan    chan os.Signal // for testing signal handling
	Stdin         io.Reader
	Stdout        io.Writer
	// Credentials overrides the encrypted store under the config dir.
	Credentials credentials.Store
	// WorkDir is where git and file tools resolve relative paths; defaults
	// to the process working directory.
	WorkDir string
	Now     func() time.Time
}

type App struct {
	cfg       *config.Config
	agent     *agent.Agent
	bus       *bus.MessageBus
	cron      *cron.Service
	tasks     *tasks.Store
	skills    *skills.Set
	notifier  *notify.Manager
	in        io.Reader
	out       io.Writer
	outMu     sync.Mutex // held while a turn writes output
	sigCh     chan os.Signal
	logger    zerolog.Logger
	closeOnce sync.Once
}

// New creates an App with default options
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	return NewWithOptions(ctx, cfg, Options{})
}

// NewWithOptions creates an App with custom options for testing
func NewWithOptions(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{
		cfg:    cfg,
		in:     opts.Stdin,
		out:    opts.Stdout,
		sigCh:  opts.SignalChan,
		logger: log.With().Str("component", "app").Logger(),
	}
	if a.in == nil {
		a.in = os.Stdin
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	workDir := opts.WorkDir
	if workDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workDir = wd
		}
	}

	a.bus = bus.NewMessageBus(busSize)

	store, err := tasks.Open(cfg.Tasks.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	a.tasks = store

	a.cron = cron.NewService(cfg.Reminders.StorePath)
	a.cron.SetClock(now)
	a.cron.OnJob = a.remind

	creds := opts.Credentials
	if creds == nil {
		creds = credentials.NewFileStore(config.CredentialsDir())
	}
	flow := oauth.NewFlow(cfg, creds)

	registry := tool.NewRegistry()
	builtin.RegisterAll(registry, builtin.Deps{
		Now:       now,
		WorkDir:   workDir,
		Tasks:     a.tasks,
		Reminders: a.cron,
		Spotify:   serviceClient(flow, oauth.ServiceSpotify, cfg.Services.Spotify),
		Google:    serviceClient(flow, oauth.ServiceGoogle, cfg.Services.Google),
		Timeout:   cfg.ToolTimeoutDuration(),
	})

	if cfg.Skills.Enabled {
		set, err := skills.NewSet(cfg.Skills.Dir)
		if err != nil {
			a.logger.Warn().Err(err).Msg("skills load warning")
		} else {
			a.skills = set
		}
	}

	factory := opts.ClientFactory
	if factory == nil {
		factory = model.New
	}
	client, err := factory(ctx, cfg)
	if err != nil {
		_ = a.tasks.Close()
		return nil, fmt.Errorf("create model client: %w", err)
	}

	agentOpts := agent.Options{
		Client:        client,
		Registry:      registry,
		Memory:        conversation.NewMemory(cfg.Agent.MemoryCap),
		System:        BuildSystemPrompt(cfg.Agent.Workspace),
		Strategy:      cfg.Agent.ToolStrategy,
		Stream:        cfg.Agent.Stream,
		HistoryWindow: cfg.Agent.HistoryWindow,
	}
	if a.skills != nil {
		agentOpts.Skills = a.skills
	}
	a.agent, err = agent.New(agentOpts)
	if err != nil {
		_ = a.tasks.Close()
		return nil, err
	}

	a.notifier, err = notify.NewManager(cfg.Notify, a.bus, notify.NewTerminal(a.out, &a.outMu))
	if err != nil {
		_ = a.tasks.Close()
		return nil, err
	}
	return a, nil
}

func serviceClient(flow *oauth.Flow, service string, app config.OAuthAppConfig) builtin.ServiceClient {
	if !app.Configured() {
		return builtin.Unconfigured(service)
	}
	c, err := flow.Client(service)
	if err != nil {
		return builtin.Unconfigured(service)
	}
	return c
}

// remind publishes a fired reminder; delivery happens on the bus.
func (a *App) remind(_ context.Context, job cron.CronJob) error {
	text := job.Payload.Message
	if text == "" {
		text = job.Name
	}
	return a.bus.Publish(bus.Notification{Source: "reminder", Title: "Reminder", Text: text})
}

// Agent exposes the session agent.
func (a *App) Agent() *agent.Agent { return a.agent }

// Notifiers lists the active notification targets.
func (a *App) Notifiers() []string { return a.notifier.Names() }

// BuildSystemPrompt reads AGENTS.md from the workspace, falling back to the
// built-in prompt when it is missing or empty.
func BuildSystemPrompt(workspace string) string {
	data, err := os.ReadFile(filepath.Join(workspace, "AGENTS.md"))
	if err != nil || strings.TrimSpace(string(data)) == "" {
		return DefaultAgentsMD
	}
	return string(data)
}

// Ask runs a single turn and writes the reply, for non-interactive use.
func (a *App) Ask(ctx context.Context, input string) error {
	defer a.Close()
	a.turn(ctx, input)
	return ctx.Err()
}

// Run starts the background services and the REPL, returning when the user
// quits, input ends, or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.cron.Start(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("reminder scheduler start warning")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.bus.DispatchOutbound(gctx)
	})
	if a.skills != nil {
		g.Go(func() error {
			if err := a.skills.Watch(gctx); err != nil {
				a.logger.Warn().Err(err).Msg("skills watch stopped")
			}
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		return a.repl(gctx)
	})

	err := g.Wait()
	a.cron.Stop()
	return err
}

// Close releases the stores. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.cron.Stop()
		if err := a.tasks.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close task store warning")
		}
	})
}

const DefaultAgentsMD = `# termpal

You are termpal, a personal assistant living in the user's terminal.

You can check the time, manage a to-do list, set reminders, look at git
repositories and files, control Spotify playback, and read the user's Google
Calendar and unread Gmail. Use the tools whenever they give a real answer
instead of guessing.

## Guidelines
- Be concise; the reply is printed in a terminal
- Call several tools in one turn when the request needs it, in the order they
  should happen
- When a service is not authenticated, tell the user which command fixes it
`
