package session

import (
	"context"
	"errors"
	"log"
	"strings"

	"fints-bot/internal/ioadapter"
)

// dialogIndicators are substrings seen in errors once the bank has dropped
// the dialog. Best effort; matching is on free text.
var dialogIndicators = []string{"dialog", "geschlossen", "closed", "9999", "session"}

// IsDialogError reports whether err looks like an expired banking dialog.
func IsDialogError(err error) bool {
	if err == nil || errors.Is(err, ioadapter.ErrTimeout) || errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, ind := range dialogIndicators {
		if strings.Contains(msg, ind) {
			return true
		}
	}
	return false
}

// Run connects, serves the menu and closes. State is saved when the menu ends
// normally or asks to reconnect; other failures return without saving.
func Run(ctx context.Context, d Deps) (reconnect bool, err error) {
	link, err := Connect(ctx, d)
	if err != nil {
		return false, err
	}
	reconnect, err = RunMenu(ctx, link, d.IO, d.now)
	if err != nil {
		link.Abort(ctx)
		return false, err
	}
	if cerr := link.Close(ctx); cerr != nil {
		log.Printf("[SESSION] close dialog: %v", cerr)
	}
	return reconnect, nil
}

// RunLoop repeats Run while it asks for a reconnect. forceFirst forces manual
// TAN selection on the first cycle only.
func RunLoop(ctx context.Context, d Deps, forceFirst bool) error {
	d.ForceTAN = forceFirst
	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		reconnect, err := Run(ctx, d)
		if err != nil {
			return err
		}
		if !reconnect {
			return nil
		}
		log.Printf("[SESSION] reconnecting %s (cycle %d)", accountLabel(d.Account), cycle+1)
		d.ForceTAN = false
	}
}
