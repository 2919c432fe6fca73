package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"fints-bot/internal/autosync"
	"fints-bot/internal/chat"
	"fints-bot/internal/config"
	"fints-bot/internal/forecast"
	"fints-bot/internal/ioadapter"
	"fints-bot/internal/prefs"
	"fints-bot/internal/scheduler"
	"fints-bot/internal/telegram"
	"fints-bot/internal/txdb"
	"fints-bot/internal/xmpp"
)

// notifier is a chat backend bound to the single configured receiver.
type notifier struct {
	adapter chat.Adapter
	send    func(text string) error
	listen  func(ctx context.Context)
	close   func()
}

func openNotifier(ctx context.Context, a *account, mode config.Mode) (*notifier, error) {
	timeout := a.inputTimeout()
	if mode == config.ModeXMPP {
		xc := a.cfg.XMPP
		cl, err := xmpp.Dial(ctx, xmpp.Config{
			JID:            xc.JID,
			Password:       xc.Password,
			Host:           xc.Host,
			Resource:       xc.Resource,
			ConnectTimeout: xc.ConnectTimeout.Duration(),
		})
		if err != nil {
			return nil, err
		}
		target := xmpp.BareJID(xc.DefaultReceiver)
		q := ioadapter.NewBridged(cl, func(text string) error { return cl.SendRaw(target, text) }, timeout)
		return &notifier{
			adapter: q,
			send:    func(text string) error { return cl.Send(target, text) },
			listen: func(ctx context.Context) {
				err := cl.Listen(ctx, func(from, text string) {
					if from == target {
						q.Offer(text)
					}
				})
				if err != nil && ctx.Err() == nil {
					log.Printf("[XMPP] listen: %v", err)
				}
			},
			close: func() { _ = cl.Close() },
		}, nil
	}

	bot, err := telegram.New(a.cfg.Telegram.BotToken)
	if err != nil {
		return nil, err
	}
	target := a.cfg.Telegram.TargetUserID
	q := ioadapter.NewQueued(func(text string) error { return bot.Send(target, text) }, timeout)
	return &notifier{
		adapter: q,
		send:    func(text string) error { return bot.Send(target, text) },
		listen: func(ctx context.Context) {
			bot.Start(ctx, func(m telegram.Message) {
				if m.UserID == target {
					q.Offer(m.Text)
				}
			})
		},
		close: func() {},
	}, nil
}

// start runs the receive side until the returned stop is called.
func (n *notifier) start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		n.listen(ctx)
	}()
	return func() {
		n.adapter.Cancel()
		cancel()
		n.close()
		wg.Wait()
	}
}

func runUnattended(ctx context.Context, out io.Writer, o *options) error {
	tag, title := "[BOT-MODE]", "Update Bot Mode"
	if o.updateAPI {
		tag, title = "[API-MODE]", "Update API Mode"
	}
	header(out, title)

	a, err := resolveAccount(out, o, unattendedPick(o))
	if err != nil {
		printConfigErrors(out, err)
		return exitCode(1)
	}
	mode := o.backend()
	if mode == "" {
		mode = a.cfg.UnattendedMode()
	}
	fmt.Fprintf(out, "Using %s for notifications\n", strings.ToUpper(string(mode)))
	if err := a.cfg.ValidateUnattended(mode, o.updateAPI, prefs.NewEnvFile(a.prefsPath(o.dir))); err != nil {
		printConfigErrors(out, err)
		return exitCode(1)
	}
	spec := o.schedule
	if spec == "" {
		spec = a.cfg.Runtime.SyncSchedule
	}
	if spec != "" {
		if err := scheduler.Validate(spec); err != nil {
			printConfigErrors(out, err)
			return exitCode(1)
		}
	}

	db, err := txdb.Open(ctx, a.cfg.Runtime.TxDBPath)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return exitCode(1)
	}

	d := &autosync.Driver{
		Mode: autosync.ModeBot,
		User: a.cfg.FinTS.Username,
		DB:   db,
		Days: a.cfg.BotUpdate.TransactionDays,
	}
	if o.updateAPI {
		api := a.cfg.API
		fmt.Fprintf(out, "Checking API connectivity: %s\n", api.URL)
		d.Mode = autosync.ModeAPI
		d.API = forecast.New(api.URL, api.User, api.Password)
		d.StartDate = api.TransactionStartDate.Time
	}

	n, err := openNotifier(ctx, a, mode)
	if err != nil {
		fmt.Fprintf(out, "%s Error: %v\n", tag, err)
		return exitCode(1)
	}
	stop := n.start(ctx)
	defer stop()
	d.Session = a.deps(o, n.adapter)

	if spec == "" {
		if err := d.Run(ctx); err != nil {
			fmt.Fprintf(out, "%s Error: %v\n", tag, err)
			return exitCode(1)
		}
		fmt.Fprintf(out, "%s Completed successfully!\n", tag)
		return nil
	}

	s := scheduler.New(nil)
	s.SetJob(spec, d.Run)
	if err := s.Start(); err != nil {
		fmt.Fprintf(out, "%s Error: %v\n", tag, err)
		return exitCode(1)
	}
	fmt.Fprintf(out, "%s Scheduled (%s). Press Ctrl+C to stop.\n", tag, spec)
	<-ctx.Done()
	n.adapter.Cancel()
	s.Stop()
	return nil
}

func runTestBot(ctx context.Context, out io.Writer, o *options) error {
	header(out, "Test Bot Mode")
	a, err := resolveAccount(out, o, unattendedPick(o))
	if err != nil {
		printConfigErrors(out, err)
		return exitCode(1)
	}
	mode := o.backend()
	if mode == "" {
		mode = a.cfg.UnattendedMode()
	}
	fmt.Fprintf(out, "Using %s for test message\n", strings.ToUpper(string(mode)))
	if err := a.cfg.ValidateTestBot(mode); err != nil {
		printConfigErrors(out, err)
		return exitCode(1)
	}

	n, err := openNotifier(ctx, a, mode)
	if err != nil {
		fmt.Fprintf(out, "Failed to connect: %v\n", err)
		return exitCode(1)
	}
	defer n.close()
	if err := autosync.SendTest(n.send); err != nil {
		fmt.Fprintf(out, "Failed to send test message: %v\n", err)
		return exitCode(1)
	}
	fmt.Fprintln(out, "Test message sent successfully!")
	return nil
}
