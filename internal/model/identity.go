package model

import (
	"fmt"
	"strings"
)

// IdentityKind separates the two viewer classes.
type IdentityKind string

const (
	IdentityAccount  IdentityKind = "account"
	IdentityDelegate IdentityKind = "delegate"
)

// Identity is the viewer a notification store is loaded for. A delegate may
// be known only by email until its durable id is resolved.
type Identity struct {
	Kind       IdentityKind
	AccountID  string
	DelegateID string
	Email      string
}

// AccountIdentity builds the identity of an account holder.
func AccountIdentity(accountID string) Identity {
	return Identity{Kind: IdentityAccount, AccountID: accountID}
}

// DelegateIdentity builds a delegate identity known by email.
func DelegateIdentity(accountID, email string) Identity {
	return Identity{Kind: IdentityDelegate, AccountID: accountID, Email: email}
}

// StorageKey returns the durable client-store key for this identity.
// Delegate keys are email-based so they stay stable once an id resolves.
func (i Identity) StorageKey() string {
	if i.Kind == IdentityDelegate {
		return fmt.Sprintf("notifications:delegate:%s:%s", i.AccountID, NormalizeEmail(i.Email))
	}
	return fmt.Sprintf("notifications:account:%s", i.AccountID)
}

// SameViewer reports whether two identities address the same durable list.
func (i Identity) SameViewer(o Identity) bool {
	return i.StorageKey() == o.StorageKey()
}

// Valid reports whether enough is known to load a store.
func (i Identity) Valid() bool {
	if i.AccountID == "" {
		return false
	}
	if i.Kind == IdentityDelegate {
		return NormalizeEmail(i.Email) != ""
	}
	return i.Kind == IdentityAccount
}

func (i Identity) String() string {
	if i.Kind == IdentityDelegate {
		return fmt.Sprintf("delegate(%s/%s)", i.AccountID, NormalizeEmail(i.Email))
	}
	return fmt.Sprintf("account(%s)", i.AccountID)
}

// NormalizeEmail lowercases and trims an address for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
