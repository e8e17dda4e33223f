package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/stellarlinkco/termpal/internal/conversation"
)

const helpText = `Commands:
  /clear    forget the conversation
  /history  show the conversation so far
  /stats    show session statistics
  /tools    list available tools
  /help     show this help
  exit      leave termpal (also: quit, Ctrl-C at the prompt)

Ctrl-C while termpal is answering cancels that answer.`

func (a *App) repl(ctx context.Context) error {
	sigCh := a.sigCh
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	lines := a.readLines(ctx)
	a.printf("termpal (%s, %d tools). Type /help for commands, 'exit' to quit.\n",
		a.agent.ModelName(), a.agent.Registry().Len())

	for {
		a.printf("\n> ")
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			a.printf("\nGoodbye!\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				a.printf("\n")
				return nil
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if input == "exit" || input == "quit" {
				a.printf("Goodbye!\n")
				return nil
			}
			if strings.HasPrefix(input, "/") {
				a.command(input)
				continue
			}
			a.interruptible(ctx, sigCh, input)
		}
	}
}

// readLines scans input on its own goroutine so the REPL can also wait on
// signals. The channel is closed at end of input.
func (a *App) readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			a.logger.Warn().Err(err).Msg("read input")
		}
	}()
	return lines
}

// interruptible runs a turn that a signal on sigCh cancels.
func (a *App) interruptible(ctx context.Context, sigCh <-chan os.Signal, input string) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-done:
		}
	}()
	a.turn(turnCtx, input)
}

// turn holds the output lock so notifications print between turns.
func (a *App) turn(ctx context.Context, input string) {
	a.outMu.Lock()
	defer a.outMu.Unlock()

	wrote := false
	_, err := a.agent.RespondStream(ctx, input, func(text string) {
		wrote = wrote || text != ""
		fmt.Fprint(a.out, text)
	})
	if wrote {
		fmt.Fprintln(a.out)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintln(a.out, "(cancelled)")
			return
		}
		a.logger.Error().Err(err).Msg("turn failed")
	}
}

func (a *App) command(input string) {
	a.outMu.Lock()
	defer a.outMu.Unlock()

	switch strings.Fields(input)[0] {
	case "/clear":
		a.agent.Reset()
		fmt.Fprintln(a.out, "Conversation cleared.")
	case "/history":
		a.history()
	case "/stats":
		a.stats()
	case "/tools":
		a.tools()
	case "/help":
		fmt.Fprintln(a.out, helpText)
	default:
		fmt.Fprintf(a.out, "Unknown command %s. Type /help for commands.\n", input)
	}
}

func (a *App) history() {
	msgs := a.agent.Memory().All()
	if len(msgs) == 0 {
		fmt.Fprintln(a.out, "No messages yet.")
		return
	}
	for _, m := range msgs {
		who := "termpal"
		if m.Role == conversation.RoleUser {
			who = "you"
		}
		fmt.Fprintf(a.out, "[%s] %s: %s\n", m.Timestamp.Format("15:04"), who, m.Content)
	}
}

func (a *App) stats() {
	st := a.agent.Memory().Stats()
	fmt.Fprintf(a.out, "Model: %s\n", a.agent.ModelName())
	fmt.Fprintf(a.out, "Tool strategy: %s\n", a.agent.Strategy())
	fmt.Fprintf(a.out, "Streaming: %v\n", a.agent.CanStream())
	fmt.Fprintf(a.out, "Messages: %d (%d from you, %d from termpal), limit %d\n",
		st.Count, st.UserCount, st.ModelCount, a.agent.Memory().Cap())
	fmt.Fprintf(a.out, "Tools: %d\n", a.agent.Registry().Len())
	fmt.Fprintf(a.out, "Reminders: %d\n", len(a.cron.ListJobs()))
	if a.skills != nil {
		fmt.Fprintf(a.out, "Skills: %d\n", len(a.skills.Skills()))
	}
	fmt.Fprintf(a.out, "Notifications: %s\n", strings.Join(a.Notifiers(), ", "))
}

func (a *App) tools() {
	reg := a.agent.Registry()
	for _, cat := range reg.Categories() {
		fmt.Fprintf(a.out, "%s:\n", cat)
		for _, d := range reg.ListByCategory(cat) {
			fmt.Fprintf(a.out, "  %-22s %s\n", d.Name, d.Description)
		}
	}
}

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}
