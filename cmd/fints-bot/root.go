package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"fints-bot/internal/config"
	"fints-bot/internal/scheduler"
)

type options struct {
	account   string
	forceTAN  bool
	telegram  bool
	xmpp      bool
	updateAPI bool
	updateBot bool
	testBot   bool
	schedule  string
	dir       string
}

// backend is the chat backend forced by flags, empty when BOT_MODE decides.
func (o *options) backend() config.Mode {
	switch {
	case o.telegram:
		return config.ModeTelegram
	case o.xmpp:
		return config.ModeXMPP
	}
	return ""
}

func (o *options) unattended() bool { return o.updateAPI || o.updateBot }

func newRootCmd() *cobra.Command {
	return buildRootCmd(&options{dir: "."})
}

func buildRootCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fints-bot",
		Short:         "Read balance and transactions from a FinTS bank account",
		Long:          "fints-bot talks to a FinTS/HBCI bank from the terminal, a Telegram chat or an XMPP chat, and can sync balance and transactions to a forecast API unattended.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			return dispatch(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.account, "account", "", "account name (.env.<name>)")
	f.BoolVar(&o.forceTAN, "tan", false, "choose the TAN mechanism again instead of the saved one")
	f.BoolVar(&o.telegram, "telegram", false, "use Telegram regardless of BOT_MODE")
	f.BoolVar(&o.xmpp, "xmpp", false, "use XMPP regardless of BOT_MODE")
	f.BoolVar(&o.updateAPI, "update-api", false, "sync balance and new transactions to the forecast API, then exit")
	f.BoolVar(&o.updateBot, "update-bot", false, "report balance and recent transactions over chat, then exit")
	f.BoolVar(&o.testBot, "test-bot", false, "send a test message to the configured receiver")
	f.StringVar(&o.schedule, "schedule", "", "cron spec; with --update-api or --update-bot keep running and sync on every tick")
	cmd.MarkFlagsMutuallyExclusive("telegram", "xmpp")
	cmd.MarkFlagsMutuallyExclusive("update-api", "update-bot", "test-bot")
	cmd.MarkFlagsMutuallyExclusive("tan", "update-api")
	cmd.MarkFlagsMutuallyExclusive("tan", "update-bot")

	return cmd
}

func (o *options) validate() error {
	if o.schedule == "" {
		return nil
	}
	if !o.unattended() {
		return fmt.Errorf("--schedule needs --update-api or --update-bot")
	}
	return scheduler.Validate(o.schedule)
}

func dispatch(cmd *cobra.Command, o *options) error {
	out := cmd.OutOrStdout()
	switch {
	case o.testBot:
		return runTestBot(cmd.Context(), out, o)
	case o.unattended():
		return runUnattended(cmd.Context(), out, o)
	}
	return runInteractive(cmd.Context(), cmd.InOrStdin(), out, o)
}

func printConfigErrors(out io.Writer, err error) {
	var ce *config.Error
	if !errors.As(err, &ce) {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(out, "Configuration errors:")
	for _, p := range ce.Problems {
		fmt.Fprintf(out, "  - %s\n", p)
	}
}

func header(out io.Writer, title string) {
	fmt.Fprintln(out, title)
	fmt.Fprintln(out, "========================================")
}
