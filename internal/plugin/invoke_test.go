package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plugbus/internal/eventbus"
)

func newInvokeFixture(t *testing.T, opts ...ManagerOption) (*Manager, *InvokeSupport) {
	t.Helper()

	m := newTestManager(t, opts...)
	inv, err := NewInvokeSupport(context.Background(), m)
	require.NoError(t, err)
	return m, inv
}

func TestInvoke_Aggregation(t *testing.T) {
	ctx := context.Background()
	m, inv := newInvokeFixture(t)

	_, err := m.AddAll(ctx, []Config{
		{Name: "one", Instance: &fakePlugin{methods: map[string]Method{"name": returning("one"), "only": returning(1)}}},
		{Name: "two", Instance: &fakePlugin{methods: map[string]Method{"name": returning("two"), "silent": returning(nil)}}},
		{Name: "plain", Instance: struct{}{}},
	}, nil)
	require.NoError(t, err)

	got, err := inv.InvokeSync(ctx, "name", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"one", "two"}, got)

	got, err = inv.InvokeSync(ctx, "only", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = inv.InvokeSync(ctx, "silent", nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = inv.InvokeSync(ctx, "name", []string{"two"})
	require.NoError(t, err)
	assert.Equal(t, "two", got)

	_, err = m.SetEnabled(ctx, EnableOptions{Enabled: false, Plugins: []string{"one"}})
	require.NoError(t, err)
	got, err = inv.InvokeSync(ctx, "name", nil)
	require.NoError(t, err)
	assert.Equal(t, "two", got, "disabled plugins are skipped")

	_, err = inv.InvokeSync(ctx, "", nil)
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestInvoke_Args(t *testing.T) {
	ctx := context.Background()
	m, inv := newInvokeFixture(t)

	var seen []any
	p := &fakePlugin{methods: map[string]Method{
		"record": func(_ context.Context, args ...any) (any, error) {
			seen = append(seen, args...)
			return nil, nil
		},
	}}
	_, err := m.Add(ctx, Config{Name: "rec", Instance: p}, nil)
	require.NoError(t, err)

	require.NoError(t, inv.Invoke(ctx, "record", nil, "a", 2))
	assert.Equal(t, []any{"a", 2}, seen)
}

func TestInvoke_Async(t *testing.T) {
	ctx := context.Background()
	m, inv := newInvokeFixture(t)

	later := func(v any) Method {
		return func(context.Context, ...any) (any, error) {
			return eventbus.Go(func() (any, error) { return v, nil }), nil
		}
	}
	_, err := m.AddAll(ctx, []Config{
		{Name: "a", Instance: &fakePlugin{methods: map[string]Method{"fetch": later([]any{1, 2})}}},
		{Name: "b", Instance: &fakePlugin{methods: map[string]Method{"fetch": later(3)}}},
		{Name: "c", Instance: &fakePlugin{methods: map[string]Method{"fetch": later(nil)}}},
	}, nil)
	require.NoError(t, err)

	got, err := inv.InvokeAsync(ctx, "fetch", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, got)

	got, err = inv.InvokeAsync(ctx, "fetch", []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	failing := &fakePlugin{methods: map[string]Method{
		"fetch": func(context.Context, ...any) (any, error) {
			return eventbus.Resolved(nil, errBoom), nil
		},
	}}
	_, err = m.Add(ctx, Config{Name: "d", Instance: failing}, nil)
	require.NoError(t, err)
	_, err = inv.InvokeAsync(ctx, "fetch", nil)
	assert.ErrorIs(t, err, errBoom)
}

func TestInvoke_Errors(t *testing.T) {
	ctx := context.Background()
	m, inv := newInvokeFixture(t)

	p := &fakePlugin{methods: map[string]Method{
		"fail": func(context.Context, ...any) (any, error) { return nil, errBoom },
		"panic": func(context.Context, ...any) (any, error) {
			panic("bad method")
		},
	}}
	_, err := m.Add(ctx, Config{Name: "e", Instance: p}, nil)
	require.NoError(t, err)

	_, err = inv.InvokeSync(ctx, "fail", nil)
	assert.ErrorIs(t, err, errBoom)
	var pe *PluginError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "e", pe.Plugin)
	assert.Equal(t, "fail", pe.Op)

	_, err = inv.InvokeSync(ctx, "panic", nil)
	assert.ErrorIs(t, err, eventbus.ErrCallbackPanic)

	got, err := inv.InvokeSync(ctx, "missing", nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = inv.InvokeSync(ctx, "fail", []string{"nobody"})
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, m.SetOptions(Options{ThrowNoMethod: true, ThrowNoPlugin: true}))
	_, err = inv.InvokeSync(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrNoMethod)
	_, err = inv.InvokeSync(ctx, "fail", []string{"nobody"})
	assert.ErrorIs(t, err, ErrNoPlugin)
}

func TestInvoke_Event(t *testing.T) {
	ctx := context.Background()
	m, inv := newInvokeFixture(t)

	appendName := func(_ context.Context, args ...any) (any, error) {
		ev := args[0].(*PluginEvent)
		list, _ := ev.Data["names"].([]any)
		ev.Data["names"] = append(list, ev.PluginName)
		return nil, nil
	}
	_, err := m.AddAll(ctx, []Config{
		{Name: "first", Instance: &fakePlugin{methods: map[string]Method{"collect": appendName}}},
		{Name: "skip", Instance: &fakePlugin{}},
		{Name: "second", Instance: &fakePlugin{methods: map[string]Method{"collect": appendName}}, Options: map[string]any{"k": "v"}},
	}, nil)
	require.NoError(t, err)

	shared := map[string]any{"n": 1}
	seed := map[string]any{"names": []any{"seed"}}
	res, err := inv.InvokeSyncEvent(ctx, InvokeEventOptions{
		Method: "collect",
		Copy:   seed,
		Pass:   map[string]any{"shared": shared},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.InvokeCount)
	assert.Equal(t, []string{"first", "second"}, res.InvokeNames)
	assert.Equal(t, []any{"seed", "first", "second"}, res.Data["names"])
	assert.Equal(t, []any{"seed"}, seed["names"], "Copy is deep copied")

	passed, ok := res.Data["shared"].(map[string]any)
	require.True(t, ok)
	passed["n"] = 2
	assert.Equal(t, 2, shared["n"], "Pass is shared")

	_, err = inv.InvokeSyncEvent(ctx, InvokeEventOptions{Method: "collect", Copy: map[string]any{"bad": func() {}}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	res, err = inv.InvokeAsyncEvent(ctx, InvokeEventOptions{Method: "collect", Plugins: []string{"second"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"second"}, res.Data["names"])
}

func TestInvoke_MethodQueries(t *testing.T) {
	ctx := context.Background()
	m, inv := newInvokeFixture(t)

	_, err := m.AddAll(ctx, []Config{
		{Name: "x", Instance: &fakePlugin{methods: map[string]Method{"b": returning(1), "a": returning(2)}}},
		{Name: "y", Instance: &fakePlugin{methods: map[string]Method{"c": returning(3)}}},
	}, nil)
	require.NoError(t, err)

	names, err := inv.GetMethodNames("x")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	_, err = inv.GetMethodNames("ghost")
	assert.ErrorIs(t, err, ErrPluginNotFound)

	has, err := inv.HasMethod("c")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = inv.HasMethod("c", "x")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = m.SetEnabled(ctx, EnableOptions{Enabled: false, Plugins: []string{"y"}})
	require.NoError(t, err)
	has, err = inv.HasMethod("c")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestInvoke_Commands(t *testing.T) {
	ctx := context.Background()
	m, _ := newInvokeFixture(t)
	bus := mustBus(t, m)

	_, err := m.AddAll(ctx, []Config{
		{Name: "x", Instance: &fakePlugin{methods: map[string]Method{"echo": func(_ context.Context, args ...any) (any, error) {
			return args[0], nil
		}}}},
		{Name: "y", Instance: &fakePlugin{methods: map[string]Method{"echo": returning("y")}}},
	}, nil)
	require.NoError(t, err)

	got, err := bus.TriggerSync("plugins:"+CmdSyncInvoke, "echo", nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, []any{"hi", "y"}, got)

	got, err = bus.TriggerAsync(ctx, "plugins:"+CmdAsyncInvoke, "echo", "y")
	require.NoError(t, err)
	assert.Equal(t, "y", got)

	got, err = bus.TriggerSync("plugins:"+CmdHasMethod, "echo", "x")
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = bus.TriggerSync("plugins:"+CmdGetMethodNames, "y")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, got)

	got, err = bus.TriggerSync("plugins:"+CmdSyncInvokeEvent, InvokeEventOptions{Method: "echo"})
	require.NoError(t, err)
	res, ok := got.(*InvokeEventResult)
	require.True(t, ok)
	assert.Equal(t, 2, res.InvokeCount)

	_, err = bus.TriggerSync("plugins:"+CmdSyncInvoke, 7)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInvoke_FollowsEventbus(t *testing.T) {
	ctx := context.Background()
	m, inv := newInvokeFixture(t)
	oldBus := mustBus(t, m)

	_, err := m.Add(ctx, Config{Name: "x", Instance: &fakePlugin{methods: map[string]Method{"v": returning(1)}}}, nil)
	require.NoError(t, err)

	newBus := eventbus.New()
	require.NoError(t, m.SetEventbus(ctx, newBus, "moved"))

	assert.False(t, oldBus.IsGuarded("plugins:"+CmdSyncInvoke))
	got, err := newBus.TriggerSync("moved:"+CmdSyncInvoke, "v")
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	require.NoError(t, m.Destroy(ctx))
	_, err = inv.InvokeSync(ctx, "v", nil)
	assert.ErrorIs(t, err, ErrManagerDestroyed)
}

func TestInvoke_DuplicateSupportIsNotKept(t *testing.T) {
	ctx := context.Background()
	m, _ := newInvokeFixture(t)

	_, err := NewInvokeSupport(ctx, m)
	require.ErrorIs(t, err, ErrPrependInUse)

	m.mu.RLock()
	attached := len(m.supports)
	m.mu.RUnlock()
	assert.Equal(t, 1, attached)

	_, err = m.Add(ctx, Config{Name: "x", Instance: &fakePlugin{methods: map[string]Method{"v": returning(1)}}}, nil)
	require.NoError(t, err)

	newBus := eventbus.New()
	require.NoError(t, m.SetEventbus(ctx, newBus, "moved"))

	got, err := newBus.TriggerSync("moved:"+CmdSyncInvoke, "v")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}
