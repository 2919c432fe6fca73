package session

import (
	"context"
	"fmt"
	"time"

	"fints-bot/internal/fints"
	"fints-bot/internal/ioadapter"
)

type Period int

const (
	PeriodToday Period = iota + 1
	PeriodWeek
	PeriodMonth
	PeriodYear
	PeriodAll
)

func (p Period) String() string {
	switch p {
	case PeriodToday:
		return "today"
	case PeriodWeek:
		return "this week"
	case PeriodMonth:
		return "this month"
	case PeriodYear:
		return "this year"
	case PeriodAll:
		return "all"
	}
	return fmt.Sprintf("period(%d)", int(p))
}

// PeriodRange returns the inclusive date range for p, ending today. Weeks
// start on Monday; "all" is the last 365 days.
func PeriodRange(p Period, today time.Time) (start, end time.Time) {
	end = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	switch p {
	case PeriodToday:
		return end, end
	case PeriodWeek:
		sinceMonday := (int(end.Weekday()) + 6) % 7
		return end.AddDate(0, 0, -sinceMonday), end
	case PeriodMonth:
		return time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, end.Location()), end
	case PeriodYear:
		return time.Date(end.Year(), time.January, 1, 0, 0, 0, 0, end.Location()), end
	default:
		return end.AddDate(0, 0, -365), end
	}
}

const (
	actionNone = iota
	actionBalance
	actionTransactions
)

type lastAction struct {
	kind   int
	period Period
}

func (a lastAction) label() string {
	switch a.kind {
	case actionBalance:
		return "Show balance"
	case actionTransactions:
		return fmt.Sprintf("Show transactions (%s)", a.period)
	}
	return ""
}

// RunMenu serves the interactive menu until the human exits or the bank
// reports the dialog as gone, in which case reconnect is true.
func RunMenu(ctx context.Context, link *Link, io ioadapter.Adapter, now func() time.Time) (reconnect bool, err error) {
	if now == nil {
		now = time.Now
	}
	var last lastAction
	for {
		io.Output("1. Show balance")
		io.Output("2. Show transactions")
		io.Output("0. Exit")
		def := ioadapter.NoDefault
		if label := last.label(); label != "" {
			io.Output("[Enter] " + label)
			def = ioadapter.WithDefault(-1)
		}
		choice, err := io.GetValidChoice("Choice: ", 2, def)
		if err != nil {
			return false, err
		}
		// A cancelled adapter answers with an empty line, which would replay
		// the last action.
		if err := ctx.Err(); err != nil {
			return false, err
		}

		var opErr error
		switch {
		case choice == 0:
			return false, nil
		case choice == 1 || (choice == -1 && last.kind == actionBalance):
			opErr = showBalance(ctx, link, io)
			if opErr == nil {
				last = lastAction{kind: actionBalance}
			}
		case choice == 2:
			p, err := choosePeriod(io)
			if err != nil {
				return false, err
			}
			if p == 0 {
				continue
			}
			opErr = showTransactions(ctx, link, io, p, now())
			if opErr == nil {
				last = lastAction{kind: actionTransactions, period: p}
			}
		case choice == -1 && last.kind == actionTransactions:
			opErr = showTransactions(ctx, link, io, last.period, now())
		}
		if opErr != nil {
			if IsDialogError(opErr) {
				io.Output(fmt.Sprintf("Session expired: %v", opErr))
				io.Output("Reconnecting...")
				return true, nil
			}
			return false, opErr
		}
	}
}

func choosePeriod(io ioadapter.Adapter) (Period, error) {
	io.Output("Select time period:")
	io.Output("1. Today")
	io.Output("2. This week")
	io.Output("3. This month")
	io.Output("4. This year")
	io.Output("5. All")
	io.Output("0. Back")
	choice, err := io.GetValidChoice("Choice: ", int(PeriodAll), ioadapter.NoDefault)
	return Period(choice), err
}

func showBalance(ctx context.Context, link *Link, io ioadapter.Adapter) error {
	bal, err := link.Balance(ctx)
	if err != nil {
		return err
	}
	io.Output("Balance:")
	if bal == nil {
		io.Output("Balance information not available")
		return nil
	}
	io.Output(fmt.Sprintf("Current balance: %s %s", bal.Amount.StringFixed(2), bal.Currency))
	return nil
}

func showTransactions(ctx context.Context, link *Link, io ioadapter.Adapter, p Period, today time.Time) error {
	start, end := PeriodRange(p, today)
	io.Output(fmt.Sprintf("Fetching transactions from %s to %s...", start.Format("2006-01-02"), end.Format("2006-01-02")))
	txs, err := link.Transactions(ctx, start, end)
	if err != nil {
		return err
	}
	io.Output(formatTransactions(txs))
	return nil
}

func formatTransactions(txs []fints.Transaction) string {
	if len(txs) == 0 {
		return "No transactions found."
	}
	out := "Transactions:"
	for _, tx := range txs {
		out += fmt.Sprintf("\n\n%s | %s %s", tx.Date.Format("2006-01-02"), tx.Amount.StringFixed(2), tx.Currency)
		if tx.ApplicantName != "" {
			out += "\n  From/To: " + tx.ApplicantName
		}
		if tx.Purpose != "" {
			out += "\n  Purpose: " + truncate(tx.Purpose, 60)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
