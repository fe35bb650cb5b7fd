package checker

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/mutator"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selection"
)

const defaultActor = "actor-1"

func singleActor(src record.Source) (Options, *record.MapSource) {
	target := record.NewMapSource()
	return Options{
		GetSourceForActor: func(string) record.Source { return src },
		GetTargetForActor: func(string) record.Source { return target },
		DefaultActor:      defaultActor,
	}, target
}

func meQuery(sels ...selection.Selection) selection.Selector {
	node := &selection.Fragment{
		Name: "MeQuery",
		Selections: []selection.Selection{
			&selection.LinkedField{Name: "me", Selections: sels},
		},
	}
	return selection.NewOperation(node, nil, nil).Root
}

func source(fields map[string]any) *record.MapSource {
	root := record.New(record.RootID, record.RootType)
	root.SetLinkedID("me", "1")
	user := record.New("1", "User")
	for k, v := range fields {
		user.Set(k, v)
	}
	return record.NewMapSource(root, user)
}

func TestCheckAvailableAndMissing(t *testing.T) {
	opts, _ := singleActor(source(map[string]any{"name": "Ada", "email": nil}))

	got := Check(meQuery(&selection.ScalarField{Name: "name"}, &selection.ScalarField{Name: "email"}), opts)
	require.Equal(t, Available, got.Status)

	got = Check(meQuery(&selection.ScalarField{Name: "name"}, &selection.ScalarField{Name: "age"}), opts)
	require.Equal(t, Missing, got.Status)
}

func TestCheckUnknownAndDeletedRecords(t *testing.T) {
	src := source(nil)
	src.Get(record.RootID).SetLinkedID("best", "9")
	opts, _ := singleActor(src)

	sel := selection.NewOperation(&selection.Fragment{
		Name: "BestQuery",
		Selections: []selection.Selection{
			&selection.LinkedField{Name: "best", Selections: []selection.Selection{&selection.ScalarField{Name: "name"}}},
		},
	}, nil, nil).Root
	require.Equal(t, Missing, Check(sel, opts).Status)

	src.Delete("9")
	require.Equal(t, Available, Check(sel, opts).Status)
}

func TestCheckClientIDIsNeverMissing(t *testing.T) {
	root := record.New(record.RootID, record.RootType)
	root.SetLinkedID("settings", "client:root:settings")
	src := record.NewMapSource(root, record.New("client:root:settings", "Settings"))
	opts, _ := singleActor(src)

	sel := selection.NewOperation(&selection.Fragment{
		Name: "SettingsQuery",
		Selections: []selection.Selection{
			&selection.LinkedField{Name: "settings", Selections: []selection.Selection{&selection.ScalarField{Name: "id"}}},
		},
	}, nil, nil).Root
	require.Equal(t, Available, Check(sel, opts).Status)
}

func TestCheckHandlersSynthesizeValues(t *testing.T) {
	src := source(nil)
	other := record.New("2", "User")
	other.Set("id", "2")
	src.Set("2", other)
	opts, target := singleActor(src)
	opts.Handlers = []MissingFieldHandler{
		{
			Kind: ScalarHandler,
			Scalar: func(f *selection.ScalarField, rec *record.Record, _ map[string]any, _ *mutator.Mutator) (any, bool) {
				if f.Name == "nickname" {
					return "Countess", true
				}
				return nil, false
			},
		},
		{
			Kind: LinkedHandler,
			Linked: func(f *selection.LinkedField, _ *record.Record, args map[string]any, _ *mutator.Mutator) (record.DataID, bool) {
				id, ok := args["id"].(string)
				return id, ok
			},
		},
	}

	sel := meQuery(
		&selection.ScalarField{Name: "nickname"},
		&selection.LinkedField{
			Name:       "node",
			Args:       []selection.Argument{selection.Literal("id", "2")},
			Selections: []selection.Selection{&selection.ScalarField{Name: "id"}},
		},
	)
	require.Equal(t, Available, Check(sel, opts).Status)

	v, ok := target.Get("1").Value("nickname")
	require.True(t, ok)
	require.Equal(t, "Countess", v)
	linked, ok := target.Get("1").LinkedID(`node(id:"2")`)
	require.True(t, ok)
	require.Equal(t, "2", linked)
	_, ok = src.Get("1").Value("nickname")
	require.False(t, ok, "synthesized values never reach the source")

	sel = meQuery(&selection.LinkedField{
		Name:       "node",
		Args:       []selection.Argument{selection.Literal("id", "404")},
		Selections: []selection.Selection{&selection.ScalarField{Name: "id"}},
	})
	require.Equal(t, Missing, Check(sel, opts).Status, "handler ids must point at existing records")
}

func TestCheckPluralHandler(t *testing.T) {
	src := source(nil)
	opts, _ := singleActor(src)
	opts.Handlers = []MissingFieldHandler{{
		Kind: PluralLinkedHandler,
		PluralLinked: func(*selection.LinkedField, *record.Record, map[string]any, *mutator.Mutator) ([]record.DataID, bool) {
			return nil, true
		},
	}}
	sel := meQuery(&selection.LinkedField{Name: "friends", Plural: true, Selections: []selection.Selection{&selection.ScalarField{Name: "name"}}})
	require.Equal(t, Available, Check(sel, opts).Status)
}

func TestCheckInvalidationEpoch(t *testing.T) {
	src := source(map[string]any{"name": "Ada"})
	src.Get("1").SetInvalidationEpoch(3)
	src.Get(record.RootID).SetInvalidationEpoch(5)
	opts, _ := singleActor(src)

	got := Check(meQuery(&selection.ScalarField{Name: "name"}), opts)
	want := Availability{Status: Available, MostRecentlyInvalidatedAt: 5, Invalidated: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("availability mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckActorChange(t *testing.T) {
	root := record.New(record.RootID, record.RootType)
	root.SetActorLinkedID("viewer", "actor-2", "v")
	defaultSource := record.NewMapSource(root)

	viewer := record.New("v", "Viewer")
	viewer.Set("name", "Grace")
	otherSource := record.NewMapSource(viewer)

	sources := map[string]record.Source{defaultActor: defaultSource, "actor-2": otherSource}
	opts := Options{
		GetSourceForActor: func(actor string) record.Source { return sources[actor] },
		GetTargetForActor: func(string) record.Source { return record.NewMapSource() },
		DefaultActor:      defaultActor,
	}
	node := &selection.Fragment{
		Name: "ViewerQuery",
		Selections: []selection.Selection{
			&selection.ActorChange{
				Name:       "viewer",
				Spread:     &selection.FragmentSpread{Name: "ViewerFragment"},
				Selections: []selection.Selection{&selection.ScalarField{Name: "name"}},
			},
		},
	}
	sel := selection.NewOperation(node, nil, nil).Root
	require.Equal(t, Available, Check(sel, opts).Status)

	sources["actor-2"] = record.NewMapSource(record.New("v", "Viewer"))
	require.Equal(t, Missing, Check(sel, opts).Status)
}

type loader map[string]*selection.Fragment

func (l loader) Get(ref any) *selection.Fragment { return l[ref.(string)] }

func TestCheckModuleImport(t *testing.T) {
	src := source(map[string]any{
		selection.ModuleOperationKey("MeQuery"): "UserCard$normalization.graphql",
		"avatar":                                "a.png",
	})
	opts, _ := singleActor(src)
	sel := meQuery(&selection.ModuleImport{DocumentName: "MeQuery", FragmentName: "UserCard_user"})

	opts.OperationLoader = loader{}
	require.Equal(t, Missing, Check(sel, opts).Status, "unloaded operations are missing")

	opts.OperationLoader = loader{"UserCard$normalization.graphql": {
		Name:       "UserCard",
		Selections: []selection.Selection{&selection.ScalarField{Name: "avatar"}},
	}}
	require.Equal(t, Available, Check(sel, opts).Status)

	opts.OperationLoader = nil
	require.Panics(t, func() { Check(sel, opts) })
}

func TestCheckAbstractTypesAndClientExtension(t *testing.T) {
	root := record.New(record.RootID, record.RootType)
	root.SetLinkedID("pet", "7")
	src := record.NewMapSource(root, record.New("7", "Cat"))
	opts, target := singleActor(src)

	inline := &selection.InlineFragment{Type: "Pet", AbstractKey: "__isPet", Selections: []selection.Selection{
		&selection.ClientExtension{Selections: []selection.Selection{&selection.ScalarField{Name: "localName"}}},
	}}
	node := &selection.Fragment{
		Name:       "PetQuery",
		Selections: []selection.Selection{&selection.LinkedField{Name: "pet", Selections: []selection.Selection{inline}}},
	}
	sel := selection.NewOperation(node, nil, nil).Root
	require.Equal(t, Missing, Check(sel, opts).Status, "unknown membership is missing")

	node.ClientAbstractTypes = map[string][]string{"__isPet": {"Cat"}}
	require.Equal(t, Available, Check(sel, opts).Status)
	typeRecord := target.Get(record.TypeID("Cat"))
	require.NotNil(t, typeRecord)
	v, _ := typeRecord.Value("__isPet")
	require.Equal(t, true, v)
}
