package events

import "time"

// StorePublish is emitted after a source is published into a store.
type StorePublish struct {
	Store       string
	Records     int
	Invalidated int
	Optimistic  bool
}

// StoreNotifyStart is emitted before a store updates its subscriptions.
type StoreNotifyStart struct {
	Store           string
	SourceOperation string
	UpdatedRecords  int
	InvalidateStore bool
}

// StoreNotifyFinish is emitted after subscriptions were updated.
type StoreNotifyFinish struct {
	Store           string
	SourceOperation string
	UpdatedOwners   []string
	Duration        time.Duration
}

// StoreSnapshot and StoreRestore bracket an optimistic transaction.
type StoreSnapshot struct{ Store string }

type StoreRestore struct{ Store string }

// SubscriptionFired is emitted when a subscription callback runs with new
// data. Source names the operation whose write caused it, if known.
type SubscriptionFired struct {
	Store        string
	Subscription string
	Owner        string
	Source       string
}

// LiveUpdate is emitted when live resolver state changes are published.
type LiveUpdate struct {
	Store   string
	Records int
}

// StoreCheck is emitted after an operation's availability was checked.
type StoreCheck struct {
	Store     string
	Operation string
	Status    string
}
