package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"fints-bot/internal/auth"
	"fints-bot/internal/chat"
	"fints-bot/internal/config"
	"fints-bot/internal/ioadapter"
	"fints-bot/internal/session"
	"fints-bot/internal/telegram"
	"fints-bot/internal/xmpp"
)

const onlineNotice = "FinTS Bot is now online. Send /start to begin a session."

func runInteractive(ctx context.Context, in io.Reader, out io.Writer, o *options) error {
	console := ioadapter.NewConsole(in, out)
	a, err := resolveAccount(out, o, interactivePick(o, console))
	if err != nil {
		printConfigErrors(out, err)
		return exitCode(1)
	}
	mode := o.backend()
	if mode == "" {
		mode = a.cfg.Mode()
	}
	if err := a.cfg.ValidateInteractive(mode); err != nil {
		printConfigErrors(out, err)
		return exitCode(1)
	}

	switch mode {
	case config.ModeTelegram:
		err = runTelegram(ctx, out, a, o)
	case config.ModeXMPP:
		err = runXMPP(ctx, out, a, o)
	default:
		err = runConsole(ctx, out, a, o, console)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if isConfigError(err) {
			fmt.Fprintf(out, "Configuration error: %v\n", err)
		} else {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		return exitCode(1)
	}
	fmt.Fprintln(out, "Goodbye!")
	return nil
}

// runConsole blocks on stdin, which a signal cannot interrupt, so an
// interrupt ends the process directly.
func runConsole(ctx context.Context, out io.Writer, a *account, o *options, console *ioadapter.Console) error {
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nInterrupted by user.")
			os.Exit(130)
		case <-finished:
		}
	}()
	console.Output("FinTS Client")
	console.Output("Initializing TAN mechanisms...")
	return session.RunLoop(ctx, a.deps(o, console), o.forceTAN)
}

func newManager(a *account, o *options, allow *auth.Allowlist, normalize func(string) string,
	reply func(id, text string), newAdapter func(id string) chat.Adapter) *chat.Manager {
	return chat.NewManager(chat.Config{
		Allow:      allow,
		Normalize:  normalize,
		Reply:      reply,
		NewAdapter: newAdapter,
		Run: func(ctx context.Context, io ioadapter.Adapter) error {
			return session.RunLoop(ctx, a.deps(o, io), o.forceTAN)
		},
		IsConfigError: isConfigError,
	})
}

func allowedLabel(a *auth.Allowlist) string {
	if !a.Restricted() {
		return "All"
	}
	return strings.Join(a.List(), ", ")
}

func runTelegram(ctx context.Context, out io.Writer, a *account, o *options) error {
	bot, err := telegram.New(a.cfg.Telegram.BotToken)
	if err != nil {
		return err
	}
	allow := auth.New(a.cfg.Telegram.AllowedChatIDs, false)
	timeout := a.inputTimeout()
	mgr := newManager(a, o, allow, nil,
		func(id, text string) {
			if err := bot.SendTo(id, text); err != nil {
				log.Printf("[TELEGRAM] reply to %s: %v", id, err)
			}
		},
		func(id string) chat.Adapter {
			return ioadapter.NewQueued(func(text string) error { return bot.SendTo(id, text) }, timeout)
		},
	)

	fmt.Fprintln(out, "Telegram bot started. Press Ctrl+C to stop.")
	fmt.Fprintf(out, "Allowed chat IDs: %s\n", allowedLabel(allow))
	bot.Start(ctx, func(m telegram.Message) {
		mgr.HandleMessage(strconv.FormatInt(m.ChatID, 10), m.Text)
	})

	log.Printf("[TELEGRAM] shutting down, %d active session(s)", mgr.Active())
	mgr.Shutdown()
	return nil
}

func runXMPP(ctx context.Context, out io.Writer, a *account, o *options) error {
	xc := a.cfg.XMPP
	cl, err := xmpp.Dial(ctx, xmpp.Config{
		JID:            xc.JID,
		Password:       xc.Password,
		Host:           xc.Host,
		Resource:       xc.Resource,
		ConnectTimeout: xc.ConnectTimeout.Duration(),
	})
	if err != nil {
		return err
	}
	defer cl.Close()

	allow := auth.New(xc.AllowedJIDs, true)
	timeout := a.inputTimeout()
	mgr := newManager(a, o, allow, xmpp.BareJID,
		func(id, text string) {
			if err := cl.Send(id, text); err != nil {
				log.Printf("[XMPP] reply to %s: %v", id, err)
			}
		},
		func(id string) chat.Adapter {
			return ioadapter.NewBridged(cl, func(text string) error { return cl.SendRaw(id, text) }, timeout)
		},
	)

	fmt.Fprintln(out, "XMPP bot started. Press Ctrl+C to stop.")
	fmt.Fprintf(out, "Bot JID: %s\n", xc.JID)
	fmt.Fprintf(out, "Allowed JIDs: %s\n", allowedLabel(allow))
	if allow.Restricted() {
		notifyOnline(out, cl, allow.List())
	}

	err = cl.Listen(ctx, mgr.HandleMessage)
	log.Printf("[XMPP] shutting down, %d active session(s)", mgr.Active())
	mgr.Shutdown()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func notifyOnline(out io.Writer, cl *xmpp.Client, jids []string) {
	fmt.Fprintf(out, "Sending startup notification to %d user(s)...\n", len(jids))
	for _, jid := range jids {
		if err := cl.Send(jid, onlineNotice); err != nil {
			log.Printf("[XMPP] startup notice to %s: %v", jid, err)
			fmt.Fprintf(out, "  - Failed to notify %s\n", jid)
			continue
		}
		fmt.Fprintf(out, "  - Notified %s\n", jid)
	}
}
