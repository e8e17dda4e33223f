package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stellarlinkco/termpal/internal/app"
	"github.com/stellarlinkco/termpal/internal/config"
	"github.com/stellarlinkco/termpal/internal/model"
)

const connectionTimeout = 30 * time.Second

var newModelClient app.ClientFactory = model.New

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage termpal configuration",
}

var configSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively create or update the configuration and workspace",
	Args:  cobra.NoArgs,
	RunE:  runConfigSetup,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default configuration (the old one is backed up)",
	Args:  cobra.NoArgs,
	RunE:  runConfigReset,
}

var configUpdateGeminiCmd = &cobra.Command{
	Use:   "update-gemini [api-key]",
	Short: "Switch to Gemini and set its API key",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigUpdateGemini,
}

var configTestConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Send a short request to the configured model",
	Args:  cobra.NoArgs,
	RunE:  runConfigTestConnection,
}

var configBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Save a timestamped copy of the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigBackup,
}

var configRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Replace the configuration with a backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigRestore,
}

var resetForce bool

func init() {
	configResetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Do not ask for confirmation")
	configCmd.AddCommand(configSetupCmd, configShowCmd, configResetCmd, configUpdateGeminiCmd,
		configTestConnectionCmd, configBackupCmd, configRestoreCmd)
}

// prompter reads answers line by line. Secrets are read without echo when
// input is a terminal. The first read error sticks and ends all prompts.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int // -1 unless input is a terminal
	err error
}

func newPrompter(cmd *cobra.Command) *prompter {
	in := cmd.InOrStdin()
	fd := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	return &prompter{in: bufio.NewReader(in), out: cmd.OutOrStdout(), fd: fd}
}

func (p *prompter) readLine() string {
	if p.err != nil {
		return ""
	}
	s, err := p.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			p.err = err
		}
		if s == "" {
			p.err = err
		}
	}
	return strings.TrimSpace(s)
}

// ask returns the answer, or def when the answer is blank.
func (p *prompter) ask(label, def string) string {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	if s := p.readLine(); s != "" {
		return s
	}
	return def
}

// secret is ask without echo; the current value is shown masked.
func (p *prompter) secret(label, current string) string {
	if current != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, config.MaskSecret(current))
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	var s string
	if p.fd >= 0 && p.err == nil {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			p.err = err
		}
		s = strings.TrimSpace(string(b))
	} else {
		s = p.readLine()
	}
	if s == "" {
		return current
	}
	return s
}

func (p *prompter) confirm(label string) bool {
	fmt.Fprintf(p.out, "%s [y/N]: ", label)
	switch strings.ToLower(p.readLine()) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// fatal reports a read error other than running out of input.
func (p *prompter) fatal() error {
	if p.err == nil || errors.Is(p.err, io.EOF) {
		return nil
	}
	return fmt.Errorf("read input: %w", p.err)
}

func runConfigSetup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out := cmd.OutOrStdout()
	p := newPrompter(cmd)

	fmt.Fprintln(out, "termpal setup. Press Enter to keep the value in brackets.")
	fmt.Fprintln(out)

	provider := strings.ToLower(p.ask("Model provider (gemini, anthropic, openai)", cfg.Provider.Type))
	switch provider {
	case config.ProviderGemini, config.ProviderAnthropic, config.ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
	if provider != cfg.Provider.Type {
		cfg.Provider.Type = provider
		cfg.Agent.Model = config.DefaultModelFor(provider)
	}
	cfg.Provider.APIKey = p.secret("API key", cfg.Provider.APIKey)
	cfg.Agent.Model = p.ask("Model", cfg.Agent.Model)

	fmt.Fprintln(out, "\nOptional: OAuth apps for Spotify and Google. Leave blank to skip.")
	cfg.Services.Spotify.ClientID = p.ask("Spotify client ID", cfg.Services.Spotify.ClientID)
	cfg.Services.Spotify.ClientSecret = p.secret("Spotify client secret", cfg.Services.Spotify.ClientSecret)
	cfg.Services.Google.ClientID = p.ask("Google client ID", cfg.Services.Google.ClientID)
	cfg.Services.Google.ClientSecret = p.secret("Google client secret", cfg.Services.Google.ClientSecret)

	fmt.Fprintln(out, "\nOptional: Telegram bot for reminders on your phone. Leave blank to skip.")
	cfg.Notify.Telegram.Token = p.secret("Telegram bot token", cfg.Notify.Telegram.Token)
	chatDef := ""
	if cfg.Notify.Telegram.ChatID != 0 {
		chatDef = strconv.FormatInt(cfg.Notify.Telegram.ChatID, 10)
	}
	if chat := p.ask("Telegram chat ID", chatDef); chat != "" {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid Telegram chat ID %q", chat)
		}
		cfg.Notify.Telegram.ChatID = id
	}
	cfg.Notify.Telegram.Enabled = cfg.Notify.Telegram.Token != "" && cfg.Notify.Telegram.ChatID != 0

	if err := p.fatal(); err != nil {
		return err
	}
	if err := config.SaveConfig(cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSaved config: %s\n", config.ConfigPath())

	ws := cfg.Agent.Workspace
	for _, dir := range []string{ws, cfg.Skills.Dir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
	}
	if err := writeIfNotExists(out, filepath.Join(ws, "AGENTS.md"), app.DefaultAgentsMD); err != nil {
		return err
	}
	fmt.Fprintf(out, "Workspace ready: %s\n", ws)

	fmt.Fprintln(out, "\nNext steps:")
	step := 1
	if cfg.Provider.APIKey == "" {
		fmt.Fprintf(out, "  %d. Set an API key (run setup again or export GEMINI_API_KEY)\n", step)
		step++
	}
	for _, svc := range []string{"spotify", "google"} {
		if oauthApp(cfg, svc).Configured() {
			fmt.Fprintf(out, "  %d. Run 'termpal auth %s'\n", step, svc)
			step++
		}
	}
	fmt.Fprintf(out, "  %d. Run 'termpal start'\n", step)
	return nil
}

func writeIfNotExists(out io.Writer, path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	fmt.Fprintf(out, "  Created: %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	masked := *cfg
	masked.Provider.APIKey = config.MaskSecret(cfg.Provider.APIKey)
	masked.Services.Spotify.ClientSecret = config.MaskSecret(cfg.Services.Spotify.ClientSecret)
	masked.Services.Google.ClientSecret = config.MaskSecret(cfg.Services.Google.ClientSecret)
	masked.Notify.Telegram.Token = config.MaskSecret(cfg.Notify.Telegram.Token)

	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s\n", config.ConfigPath(), data)
	return nil
}

func runConfigReset(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if !resetForce && !newPrompter(cmd).confirm("Reset configuration to defaults?") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}
	if _, err := os.Stat(config.ConfigPath()); err == nil {
		path, err := config.Backup(time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Previous config backed up to %s\n", path)
	}
	if _, err := config.Reset(); err != nil {
		return err
	}
	fmt.Fprintf(out, "✔ Configuration reset: %s\n", config.ConfigPath())
	return nil
}

func runConfigUpdateGemini(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	var key string
	if len(args) == 1 {
		key = strings.TrimSpace(args[0])
	} else {
		p := newPrompter(cmd)
		key = p.secret("Gemini API key", "")
		if err := p.fatal(); err != nil {
			return err
		}
	}
	if key == "" {
		return errors.New("no API key given")
	}
	if cfg.Provider.Type != config.ProviderGemini {
		cfg.Provider.Type = config.ProviderGemini
		cfg.Agent.Model = config.DefaultGeminiModel
	}
	cfg.Provider.APIKey = key
	if err := config.SaveConfig(cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✔ Gemini API key updated (%s, model %s)\n", config.MaskSecret(key), cfg.Agent.Model)
	return nil
}

func runConfigTestConnection(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmdContext(cmd), connectionTimeout)
	defer cancel()

	client, err := newModelClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create model client: %w", err)
	}
	start := time.Now()
	reply, err := client.Send(ctx, model.Request{Input: "Reply with the single word OK."})
	if err != nil {
		return fmt.Errorf("%s (%s) did not answer: %w", cfg.Provider.Type, client.Name(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✔ Connected to %s (%s) in %s: %s\n",
		cfg.Provider.Type, client.Name(), time.Since(start).Round(time.Millisecond), strings.TrimSpace(reply.Text))
	return nil
}

func runConfigBackup(cmd *cobra.Command, _ []string) error {
	path, err := config.Backup(time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✔ Config backed up to %s\n", path)
	return nil
}

func runConfigRestore(cmd *cobra.Command, args []string) error {
	if _, err := config.Restore(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✔ Restored configuration from %s\n", args[0])
	return nil
}
