// Package tan selects the TAN mechanism and medium for a banking session and
// walks the human through challenges raised by banking calls.
package tan

import (
	"context"
	"errors"
	"fmt"
	"log"

	"fints-bot/internal/fints"
	"fints-bot/internal/ioadapter"
	"fints-bot/internal/prefs"
)

var (
	ErrNoMechanisms = errors.New("no TAN mechanisms available")
	ErrNoMedia      = errors.New("no TAN media available")
)

// Bootstrap leaves client with a mechanism (and a medium where one is
// required) applied. Saved preferences are replayed unless force is set;
// any manual choice is written back to store.
func Bootstrap(ctx context.Context, client fints.Client, io ioadapter.Adapter, store prefs.Store, force bool) error {
	mechs := client.TANMechanisms()
	if len(mechs) == 0 {
		if err := client.FetchTANMechanisms(ctx); err != nil {
			return fmt.Errorf("fetch tan mechanisms: %w", err)
		}
		mechs = client.TANMechanisms()
	}
	if len(mechs) == 0 {
		return ErrNoMechanisms
	}

	if !force {
		applied, done, err := replay(ctx, client, io, store, mechs)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if applied != nil {
			medium, err := selectMedium(ctx, client, io)
			if err != nil {
				return err
			}
			persist(io, store, *applied, medium)
			return nil
		}
	}

	mech, err := selectMechanism(client, io, mechs)
	if err != nil {
		return err
	}
	var medium string
	if mech.RequiresMedium() {
		if medium, err = selectMedium(ctx, client, io); err != nil {
			return err
		}
	}
	persist(io, store, mech, medium)
	return nil
}

// replay applies the cached preference. done means nothing is left to choose;
// a non-nil applied mechanism still needs a medium.
func replay(ctx context.Context, client fints.Client, io ioadapter.Adapter, store prefs.Store, mechs []fints.Mechanism) (applied *fints.Mechanism, done bool, err error) {
	pref, err := store.Load()
	if err != nil {
		log.Printf("[AUTH] cannot read saved TAN preference: %v", err)
		return nil, false, nil
	}
	if !pref.Complete() {
		return nil, false, nil
	}
	var mech *fints.Mechanism
	for i := range mechs {
		if mechs[i].ID == pref.MechanismID {
			mech = &mechs[i]
			break
		}
	}
	if mech == nil {
		io.Output(fmt.Sprintf("Saved TAN mechanism %s no longer available.", pref.MechanismID))
		return nil, false, nil
	}
	if err := client.SetTANMechanism(mech.ID); err != nil {
		return nil, false, fmt.Errorf("set tan mechanism: %w", err)
	}
	if mech.Name == "" {
		mech.Name = pref.MechanismName
	}
	if !mech.RequiresMedium() {
		io.Output("Using: " + pref.MechanismName)
		io.Output("(use --tan to change)")
		return nil, true, nil
	}
	if pref.Medium == "" {
		log.Printf("[AUTH] mechanism %s needs a medium but none is saved", mech.ID)
		return mech, false, nil
	}
	media, err := client.TANMedia(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("get tan media: %w", err)
	}
	for _, m := range media {
		if m.Name == pref.Medium {
			if err := client.SetTANMedium(m); err != nil {
				return nil, false, fmt.Errorf("set tan medium: %w", err)
			}
			io.Output(fmt.Sprintf("Using: %s - %s", pref.MechanismName, pref.Medium))
			io.Output("(use --tan to change)")
			return nil, true, nil
		}
	}
	io.Output(fmt.Sprintf("Saved TAN medium '%s' no longer available.", pref.Medium))
	return mech, false, nil
}

func selectMechanism(client fints.Client, io ioadapter.Adapter, mechs []fints.Mechanism) (fints.Mechanism, error) {
	if len(mechs) == 1 {
		m := mechs[0]
		if err := client.SetTANMechanism(m.ID); err != nil {
			return fints.Mechanism{}, fmt.Errorf("set tan mechanism: %w", err)
		}
		io.Output("Using TAN mechanism: " + m.Name)
		return m, nil
	}
	io.Output("Multiple TAN mechanisms available. Which one do you prefer?")
	for i, m := range mechs {
		io.Output(fmt.Sprintf("%d Function %s: %s", i, m.ID, m.Name))
	}
	choice, err := io.GetValidChoice("Choice: ", len(mechs)-1, ioadapter.NoDefault)
	if err != nil {
		return fints.Mechanism{}, err
	}
	m := mechs[choice]
	if err := client.SetTANMechanism(m.ID); err != nil {
		return fints.Mechanism{}, fmt.Errorf("set tan mechanism: %w", err)
	}
	return m, nil
}

func selectMedium(ctx context.Context, client fints.Client, io ioadapter.Adapter) (string, error) {
	io.Output("We need the name of the TAN medium, let's fetch them from the bank")
	media, err := client.TANMedia(ctx)
	if err != nil {
		return "", fmt.Errorf("get tan media: %w", err)
	}
	switch len(media) {
	case 0:
		return "", ErrNoMedia
	case 1:
		if err := client.SetTANMedium(media[0]); err != nil {
			return "", fmt.Errorf("set tan medium: %w", err)
		}
		io.Output("Using TAN medium: " + media[0].Name)
		return media[0].Name, nil
	}
	io.Output("Multiple TAN media available. Which one do you prefer?")
	for i, m := range media {
		io.Output(fmt.Sprintf("%d %s", i, m.Name))
	}
	choice, err := io.GetValidChoice("Choice: ", len(media)-1, ioadapter.NoDefault)
	if err != nil {
		return "", err
	}
	if err := client.SetTANMedium(media[choice]); err != nil {
		return "", fmt.Errorf("set tan medium: %w", err)
	}
	return media[choice].Name, nil
}

// persist failures are not fatal; the selection is already applied for this run.
func persist(io ioadapter.Adapter, store prefs.Store, mech fints.Mechanism, medium string) {
	p := prefs.Preference{MechanismID: mech.ID, MechanismName: mech.Name, Medium: medium}
	if err := store.Save(p); err != nil {
		log.Printf("[AUTH] saving TAN preference failed: %v", err)
		io.Output("Could not save TAN preferences.")
		return
	}
	io.Output("TAN preferences saved.")
}
