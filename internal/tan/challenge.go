package tan

import (
	"context"
	"fmt"
	"log"
	"strings"

	"fints-bot/internal/fints"
	"fints-bot/internal/ioadapter"
)

// Resolve runs call and answers challenges until the bank hands out a final
// result of type T.
func Resolve[T fints.Response](ctx context.Context, client fints.Client, io ioadapter.Adapter, call func() (fints.Response, error)) (T, error) {
	var zero T
	resp, err := call()
	for err == nil {
		ch, ok := resp.(*fints.NeedChallenge)
		if !ok {
			break
		}
		var answer string
		if answer, err = HandleChallenge(io, ch); err != nil {
			return zero, err
		}
		resp, err = client.SendTAN(ctx, ch, answer)
	}
	if err != nil {
		return zero, err
	}
	out, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected bank response %T", resp)
	}
	return out, nil
}

// ResolveInit answers the challenge demanded by the dialog opening, if any.
func ResolveInit(ctx context.Context, client fints.Client, io ioadapter.Adapter) error {
	ch := client.InitChallenge()
	if ch == nil {
		return nil
	}
	_, err := Resolve[fints.Ack](ctx, client, io, func() (fints.Response, error) { return ch, nil })
	if err != nil {
		return fmt.Errorf("init challenge: %w", err)
	}
	return nil
}

// HandleChallenge shows the challenge and returns what the bank should get
// back: empty for app confirmation, otherwise the typed TAN.
func HandleChallenge(io ioadapter.Adapter, ch *fints.NeedChallenge) (string, error) {
	io.Output("TAN Challenge:")
	if ch.Text != "" {
		io.Output("Challenge: " + ch.Text)
	}
	if ch.Decoupled {
		io.Output("Please confirm this transaction in your banking app.")
		if _, err := io.Input("Press Enter after confirming..."); err != nil {
			return "", err
		}
		return "", nil
	}
	if ch.Flicker != "" {
		if fr, ok := io.(ioadapter.FlickerRenderer); ok {
			io.Output("Flicker code displayed (if terminal supports it):")
			if err := fr.RenderFlicker(ch.Flicker); err != nil {
				log.Printf("[AUTH] flicker rendering failed: %v", err)
				io.Output("(Flicker display not available on this terminal)")
			}
		}
	}
	tan, err := io.Input("Enter TAN: ")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(tan), nil
}
