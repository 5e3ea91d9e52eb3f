package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/nhle/reminders/internal/model"
)

func runSeed(args []string, logger *log.Logger) error {
	fs := newFlagSet("seed")
	accountID := fs.String("account", "demo", "account id")
	email := fs.String("email", "", "account email (required)")
	delegateEmail := fs.String("delegate", "", "delegate email; seeds a delegate-created reminder too")
	in := fs.Duration("in", time.Minute, "schedule the reminders this far from now")
	cfg, err := fs.parse(args)
	if err != nil {
		return err
	}
	if *email == "" {
		return errors.New("--email is required")
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := db.CreateAccount(ctx, model.Account{ID: *accountID, Email: *email, DisplayName: "Demo"}); err != nil {
		return err
	}

	at := time.Now().Add(*in)
	reminders := []model.Reminder{
		{Kind: model.ReminderKindTask, Title: "Send the quarterly report", Body: "Numbers are in the shared folder."},
		{Kind: model.ReminderKindEvent, Title: "Planning meeting", EmailEnabled: true},
		{Kind: model.ReminderKindCustom, Title: "Follow up", Body: "Call the client back.", EmailEnabled: true},
	}

	if *delegateEmail != "" {
		delegateID, err := db.CreateDelegate(ctx, model.Delegate{AccountID: *accountID, Email: *delegateEmail})
		if err != nil {
			return err
		}
		reminders = append(reminders, model.Reminder{
			Kind:                model.ReminderKindCustom,
			Title:               "Confirm the booking",
			EmailEnabled:        true,
			CreatedByDelegateID: &delegateID,
		})
	}

	for _, r := range reminders {
		r.AccountID = *accountID
		r.ScheduledAt = at
		if r.Kind == model.ReminderKindEvent {
			starts := at.Add(15 * time.Minute)
			r.StartsAt = &starts
		}
		id, err := db.CreateReminder(ctx, r)
		if err != nil {
			return err
		}
		logger.Printf("seeded %s reminder %s due %s", r.Kind, id, at.Format(time.RFC3339))
	}
	return nil
}
