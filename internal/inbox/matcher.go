package inbox

import "github.com/nhle/reminders/internal/model"

// Accepts reports whether ev is addressed to the viewer id.
//
// Events naming the other audience class are rejected. Explicitly targeted
// events must match id; delegates are matched by durable id when both
// sides carry one, and otherwise by normalized email. The email fallback
// assumes delegate emails are unique within an account.
func Accepts(id model.Identity, ev model.NotificationEvent) bool {
	audience := model.AudienceFor(id.Kind)
	if ev.TargetAudience != model.AudienceUnspecified && ev.TargetAudience != audience {
		return false
	}
	if ev.RecipientAccountID != "" && ev.RecipientAccountID != id.AccountID {
		return false
	}

	switch id.Kind {
	case model.IdentityAccount:
		return !ev.HasDelegateRecipient()
	case model.IdentityDelegate:
		if ev.HasDelegateRecipient() {
			return matchDelegate(id, ev)
		}
		// An account-targeted event without a delegate audience is for the
		// account holder only.
		if ev.RecipientAccountID != "" && ev.TargetAudience != model.AudienceDelegate {
			return false
		}
		return true
	default:
		return false
	}
}

func matchDelegate(id model.Identity, ev model.NotificationEvent) bool {
	if ev.RecipientDelegateID != "" && id.DelegateID != "" {
		return ev.RecipientDelegateID == id.DelegateID
	}
	email := model.NormalizeEmail(ev.RecipientDelegateEmail)
	return email != "" && email == model.NormalizeEmail(id.Email)
}
