package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/reader"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/resolver"
	"github.com/hanpama/graphcache/internal/selection"
)

func meQuery(sels ...selection.Selection) *selection.Operation {
	if len(sels) == 0 {
		sels = []selection.Selection{&selection.ScalarField{Name: "id"}, &selection.ScalarField{Name: "name"}}
	}
	return selection.NewOperation(&selection.Fragment{
		Name:       "MeQuery",
		Selections: []selection.Selection{&selection.LinkedField{Name: "me", Selections: sels}},
	}, nil, nil)
}

func mePayload(name string) map[string]any {
	return map[string]any{"me": map[string]any{"__typename": "User", "id": "1", "name": name}}
}

func commit(t *testing.T, s *Store, op *selection.Operation, payload map[string]any) []*selection.RequestDescriptor {
	t.Helper()
	owners, err := s.CommitPayload(context.Background(), op, payload)
	require.NoError(t, err)
	return owners
}

func meName(t *testing.T, snap *reader.Snapshot) any {
	t.Helper()
	return snap.Data.(map[string]any)["me"].(map[string]any)["name"]
}

func TestReadRemovedFieldIsMissing(t *testing.T) {
	user := record.New("4", "User")
	user.Set("name", "Ada")
	s := New(WithSource(record.NewMapSource(user)))
	sel := selection.Selector{
		Node:   &selection.Fragment{Name: "UserName", Type: "User", Selections: []selection.Selection{&selection.ScalarField{Name: "name"}}},
		DataID: "4",
	}

	snap := s.Lookup(sel)
	require.Equal(t, map[string]any{"name": "Ada"}, snap.Data)
	require.False(t, snap.IsMissingData)

	next := s.Source().Get("4").Clone()
	next.Unset("name")
	s.Source().Set("4", next)
	snap = s.Lookup(sel)
	require.True(t, snap.IsMissingData)
	_, defined := snap.Data.(map[string]any)["name"]
	require.False(t, defined)
}

func TestCommitNotifiesSubscribers(t *testing.T) {
	s := New()
	require.True(t, s.Source().Has(record.RootID))
	op := meQuery()
	require.Empty(t, commit(t, s, op, mePayload("Ada")))

	snap := s.Lookup(op.Root)
	want := map[string]any{"me": map[string]any{"id": "1", "name": "Ada"}}
	if diff := cmp.Diff(want, snap.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}

	var got []*reader.Snapshot
	sub := s.Subscribe(snap, func(next *reader.Snapshot) { got = append(got, next) })
	owners := commit(t, s, op, mePayload("Ada Lovelace"))
	require.Len(t, got, 1)
	require.Equal(t, "Ada Lovelace", meName(t, got[0]))
	require.Len(t, owners, 1)
	require.Equal(t, op.Request.Identifier, owners[0].Identifier)

	require.Empty(t, commit(t, s, op, mePayload("Ada Lovelace")), "an identical payload changes nothing")
	sub.Dispose()
	commit(t, s, op, mePayload("Grace"))
	require.Len(t, got, 1)
}

func TestPublishUpdatesTarget(t *testing.T) {
	user := record.New("1", "User")
	user.Set("name", "Ada")
	user.Set("email", "ada@example.com")
	entry := record.New("client:1:greeting", record.ResolverTypename)
	entry.Set("__resolverValue", "Hello, Ada")
	entry.Set("__resolverSnapshot", "old")
	gone := record.New("2", "User")
	s := New(WithSource(record.NewMapSource(user, entry, gone)))

	partial := record.New("1", "User")
	partial.Set("name", "Grace")
	nextEntry := record.New("client:1:greeting", record.ResolverTypename)
	nextEntry.Set("__resolverValue", "Hello, Grace")
	src := record.NewMapSource(partial, nextEntry)
	src.Delete("2")
	s.Publish(context.Background(), src, nil)

	merged := s.Source().Get("1")
	name, _ := merged.Value("name")
	email, _ := merged.Value("email")
	require.Equal(t, "Grace", name)
	require.Equal(t, "ada@example.com", email, "server records are merged field by field")

	require.Same(t, nextEntry, s.Source().Get("client:1:greeting"), "resolver entries are replaced")
	require.Equal(t, record.Nonexistent, s.Source().Status("2"))
	require.ElementsMatch(t, []record.DataID{"1", "2", "client:1:greeting"}, s.updatedRecordIDs.Sorted())
}

func TestPublishStampsInvalidationEpoch(t *testing.T) {
	s := New()
	op := meQuery()
	commit(t, s, op, mePayload("Ada"))

	s.Publish(context.Background(), record.NewMapSource(), record.NewIDSet("1", "unknown"))
	epoch, ok := s.Source().Get("1").InvalidationEpoch()
	require.True(t, ok)
	require.Equal(t, int64(2), epoch)
	require.False(t, s.Source().Has("unknown"))
	require.Empty(t, s.updatedRecordIDs, "invalidation alone does not re-read subscriptions")
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	s := New()
	op := meQuery()
	require.Equal(t, Missing, s.Check(ctx, op, CheckOptions{}).Status)

	commit(t, s, op, mePayload("Ada"))
	require.Equal(t, Available, s.Check(ctx, op, CheckOptions{}).Status)

	s.Publish(ctx, record.NewMapSource(), record.NewIDSet("1"))
	s.Notify(ctx, NotifyOptions{})
	require.Equal(t, Stale, s.Check(ctx, op, CheckOptions{}).Status, "a record was invalidated after the last write")

	commit(t, s, op, mePayload("Ada"))
	require.Equal(t, Available, s.Check(ctx, op, CheckOptions{}).Status)

	s.Notify(ctx, NotifyOptions{InvalidateStore: true})
	require.Equal(t, Stale, s.Check(ctx, op, CheckOptions{}).Status)
	other := selection.NewOperation(op.Root.Node, map[string]any{"unused": true}, nil)
	require.Equal(t, Stale, s.Check(ctx, other, CheckOptions{}).Status, "never written operations are stale too")

	commit(t, s, op, mePayload("Ada"))
	require.Equal(t, Available, s.Check(ctx, op, CheckOptions{}).Status)
}

func TestCheckQueryCacheExpiration(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithQueryCacheExpiration(time.Minute), WithClock(func() time.Time { return now }))
	op := meQuery()
	commit(t, s, op, mePayload("Ada"))
	fetched := now

	now = now.Add(30 * time.Second)
	a := s.Check(ctx, op, CheckOptions{})
	require.Equal(t, Available, a.Status)
	require.Equal(t, fetched, a.FetchTime)

	now = now.Add(time.Minute)
	require.Equal(t, Stale, s.Check(ctx, op, CheckOptions{}).Status)
}

func TestRetainCountsReferences(t *testing.T) {
	s := New()
	op := meQuery()
	first := s.Retain(op)
	second := s.Retain(op)
	require.Equal(t, 2, s.roots[op.Request.Identifier].refCount)

	first()
	first()
	require.Equal(t, 1, s.roots[op.Request.Identifier].refCount, "disposing twice releases once")
	second()
	require.NotContains(t, s.roots, op.Request.Identifier, "never written operations are dropped")
}

func TestReleasedOperationKeepsWriteBookkeeping(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithQueryCacheExpiration(time.Minute), WithClock(func() time.Time { return now }))
	op := meQuery()

	release := s.Retain(op)
	commit(t, s, op, mePayload("Ada"))
	release()
	require.Zero(t, s.roots[op.Request.Identifier].refCount)

	now = now.Add(2 * time.Minute)
	require.Equal(t, Stale, s.Check(ctx, op, CheckOptions{}).Status, "expiration still applies after release")

	s.Publish(ctx, record.NewMapSource(), record.NewIDSet("1"))
	s.Notify(ctx, NotifyOptions{})
	commit(t, s, op, mePayload("Ada"))
	s.Retain(op)()
	require.Equal(t, Available, s.Check(ctx, op, CheckOptions{}).Status, "the refetch is newer than the invalidation")
}

func TestSnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	s := New()
	op := meQuery()
	commit(t, s, op, mePayload("Ada"))

	var names []any
	s.Subscribe(s.Lookup(op.Root), func(next *reader.Snapshot) { names = append(names, meName(t, next)) })

	s.Snapshot()
	require.Panics(t, s.Snapshot)
	optimistic := s.Source().Get("1").Clone()
	optimistic.Set("name", "Optimistic Ada")
	s.Publish(ctx, record.NewMapSource(optimistic), nil)
	s.Notify(ctx, NotifyOptions{})
	require.Equal(t, []any{"Optimistic Ada"}, names)
	committed, _ := s.recordSource.Get("1").Value("name")
	require.Equal(t, "Ada", committed, "optimistic writes stay in the overlay")

	s.Restore()
	require.Panics(t, s.Restore)
	s.Notify(ctx, NotifyOptions{})
	require.Equal(t, []any{"Optimistic Ada", "Ada"}, names)
}

func TestInvalidationSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := New()
	commit(t, s, meQuery(), mePayload("Ada"))

	state := s.LookupInvalidationState([]record.DataID{"1"})
	require.False(t, s.CheckInvalidationState(state))
	calls := 0
	dispose := s.SubscribeToInvalidationState(state, func() { calls++ })

	commit(t, s, meQuery(), mePayload("Grace"))
	require.Zero(t, calls, "plain writes are not invalidations")

	s.Publish(ctx, record.NewMapSource(), record.NewIDSet("1"))
	s.Notify(ctx, NotifyOptions{})
	require.Equal(t, 1, calls)
	require.True(t, s.CheckInvalidationState(state))

	s.Notify(ctx, NotifyOptions{InvalidateStore: true})
	require.Equal(t, 2, calls)

	dispose()
	s.Notify(ctx, NotifyOptions{InvalidateStore: true})
	require.Equal(t, 2, calls)
}

func TestEvict(t *testing.T) {
	ctx := context.Background()
	s := New()
	op := meQuery()
	commit(t, s, op, mePayload("Ada"))
	var got *reader.Snapshot
	s.Subscribe(s.Lookup(op.Root), func(next *reader.Snapshot) { got = next })

	s.Evict(record.NewIDSet("1"))
	require.False(t, s.Source().Has("1"))
	s.Notify(ctx, NotifyOptions{})
	require.NotNil(t, got)
	require.True(t, got.IsMissingData)
	require.Equal(t, Missing, s.Check(ctx, op, CheckOptions{}).Status)
}

func greetingField(calls *int) *selection.ResolverField {
	return &selection.ResolverField{
		Name: "greeting",
		Path: "me.greeting",
		Fragment: &selection.Fragment{
			Name:       "UserGreetingResolver",
			Type:       "User",
			Selections: []selection.Selection{&selection.ScalarField{Name: "name"}},
		},
		Resolve: func(data any, _ map[string]any) resolver.Outcome {
			*calls++
			return resolver.Value("Hello, " + data.(map[string]any)["name"].(string))
		},
	}
}

func TestResolverValuesFollowTheirInputs(t *testing.T) {
	s := New()
	op := meQuery(&selection.ScalarField{Name: "id"}, &selection.ScalarField{Name: "name"})
	commit(t, s, op, mePayload("Ada"))

	calls := 0
	greeting := meQuery(greetingField(&calls))
	var got []any
	snap := s.Lookup(greeting.Root)
	s.Lookup(greeting.Root)
	require.Equal(t, 1, calls)
	s.Subscribe(snap, func(next *reader.Snapshot) {
		got = append(got, next.Data.(map[string]any)["me"].(map[string]any)["greeting"])
	})

	commit(t, s, op, mePayload("Grace"))
	require.Equal(t, []any{"Hello, Grace"}, got)
	require.Equal(t, 2, calls)
}

func liveCounter(cell *resolver.Cell) *selection.ResolverField {
	return &selection.ResolverField{
		Name: "counter",
		Path: "me.counter",
		Live: true,
		Resolve: func(any, map[string]any) resolver.Outcome {
			return resolver.Live(cell)
		},
	}
}

func TestLiveResolvers(t *testing.T) {
	bus := eventbus.New()
	notifies := 0
	eventbus.Subscribe(bus, func(context.Context, events.StoreNotifyFinish) { notifies++ })
	s := New(WithLiveResolvers(true), WithEventBus(bus))
	commit(t, s, meQuery(), mePayload("Ada"))
	notifies = 0

	cell := resolver.NewCell(0)
	op := meQuery(liveCounter(cell))
	var got []any
	s.Subscribe(s.Lookup(op.Root), func(next *reader.Snapshot) {
		got = append(got, next.Data.(map[string]any)["me"].(map[string]any)["counter"])
	})

	cell.Set(1)
	require.Equal(t, []any{1}, got)
	require.Equal(t, 1, notifies)

	s.BatchLiveStateUpdates(func() {
		cell.Set(2)
		cell.Set(3)
	})
	require.Equal(t, []any{1, 3}, got)
	require.Equal(t, 2, notifies, "a batch notifies once")

	require.Equal(t, 1, cell.Subscribers())
	s.Dispose()
	require.Zero(t, cell.Subscribers())
	require.Panics(t, func() { s.Lookup(op.Root) })
}

func TestRestoreAfterDispose(t *testing.T) {
	s := New()
	s.Snapshot()
	s.Dispose()
	require.PanicsWithValue(t, "store: Restore called after Dispose", s.Restore)
}

func TestLiveResolverPromise(t *testing.T) {
	s := New(WithLiveResolvers(true))
	commit(t, s, meQuery(), mePayload("Ada"))
	cell := resolver.NewPendingCell()
	snap := s.Lookup(meQuery(liveCounter(cell)).Root)
	require.True(t, snap.IsMissingData)
	require.Len(t, snap.MissingLiveResolverFields, 1)

	done := s.LiveResolverPromise(snap.MissingLiveResolverFields[0].LiveStateID)
	select {
	case <-done:
		t.Fatal("promise resolved before the state changed")
	default:
	}
	cell.Set(1)
	<-done
}

func TestLiveFeaturesNeedLiveResolvers(t *testing.T) {
	s := New()
	require.Panics(t, func() { s.BatchLiveStateUpdates(func() {}) })
	require.Panics(t, func() { s.LiveResolverPromise("client:1:counter") })
}

func TestEvents(t *testing.T) {
	bus := eventbus.New()
	var publishes []events.StorePublish
	var fired []events.SubscriptionFired
	var checks []events.StoreCheck
	eventbus.Subscribe(bus, func(_ context.Context, e events.StorePublish) { publishes = append(publishes, e) })
	eventbus.Subscribe(bus, func(_ context.Context, e events.SubscriptionFired) { fired = append(fired, e) })
	eventbus.Subscribe(bus, func(_ context.Context, e events.StoreCheck) { checks = append(checks, e) })

	s := New(WithEventBus(bus))
	op := meQuery()
	commit(t, s, op, mePayload("Ada"))
	sub := s.Subscribe(s.Lookup(op.Root), func(*reader.Snapshot) {})
	commit(t, s, op, mePayload("Grace"))
	s.Check(context.Background(), op, CheckOptions{})

	require.Len(t, publishes, 2)
	require.Equal(t, s.ID(), publishes[0].Store)
	want := []events.SubscriptionFired{{
		Store:        s.ID(),
		Subscription: sub.ID(),
		Owner:        op.Request.Identifier,
		Source:       op.Request.Identifier,
	}}
	if diff := cmp.Diff(want, fired); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []events.StoreCheck{{Store: s.ID(), Operation: op.Request.Identifier, Status: "available"}}, checks)
}
