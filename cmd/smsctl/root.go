package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/smsdesk/internal/config"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/profile"
	"github.com/matheus3301/smsdesk/internal/remote"
)

// ctl is the state shared by every subcommand once the root has resolved
// the profile and config.
type ctl struct {
	out        io.Writer
	profile    string
	configPath string
	apiURL     string
	json       bool
	timeout    time.Duration

	cfg   *config.Config
	store *remote.Client
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &ctl{out: out}

	root := &cobra.Command{
		Use:           "smsctl",
		Short:         "Script smsdeskd from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&c.profile, "profile", "", "profile name (overrides config default)")
	flags.StringVar(&c.configPath, "config", profile.ConfigPath(), "path to config.toml")
	flags.StringVar(&c.apiURL, "api", "", "smsdeskd base URL (overrides console.api_base_url)")
	flags.BoolVar(&c.json, "json", false, "output in JSON format")
	flags.DurationVar(&c.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		newStatusCmd(c),
		newConversationsCmd(c),
		newMessagesCmd(c),
		newSendCmd(c),
		newMarkCmd(c, true),
		newMarkCmd(c, false),
		newDeleteCmd(c),
	)
	return root
}

func (c *ctl) init() error {
	c.profile = profile.Resolve(c.profile)
	if err := profile.ValidateName(c.profile); err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	base := cfg.Console.APIBaseURL
	if c.apiURL != "" {
		base = c.apiURL
	}
	c.store = remote.NewClient(base, c.timeout)
	return nil
}

func (c *ctl) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

// phone normalizes a command-line number with the configured region.
func (c *ctl) phone(raw string) (string, error) {
	return model.NormalizePhone(raw, c.cfg.Console.DefaultRegion)
}

func (c *ctl) outputJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
