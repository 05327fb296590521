package eventbus

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"testing"
)

func value(v any) *Callback {
	return NewCallback(func(...any) any { return v })
}

func TestNew(t *testing.T) {
	bus := New(WithName("main"))
	if bus == nil {
		t.Fatal("New() returned nil")
	}
	if bus.Name() != "main" {
		t.Errorf("Name() = %q, want %q", bus.Name(), "main")
	}
	if bus.ID() == "" {
		t.Error("ID() is empty")
	}
	if other := New(); other.ID() == bus.ID() {
		t.Error("two buses share an ID")
	}
}

func TestEventbus_OnValidation(t *testing.T) {
	bus := New()
	cb := value(1)

	if err := bus.On("", cb); !errors.Is(err, ErrInvalidName) {
		t.Errorf("On(\"\") error = %v, want ErrInvalidName", err)
	}
	if err := bus.On("   ", cb); !errors.Is(err, ErrInvalidName) {
		t.Errorf("On(blank) error = %v, want ErrInvalidName", err)
	}
	if err := bus.On("a", nil); !errors.Is(err, ErrNilCallback) {
		t.Errorf("On(nil) error = %v, want ErrNilCallback", err)
	}
	if err := bus.Before(-1, "a", cb); !errors.Is(err, ErrInvalidCount) {
		t.Errorf("Before(-1) error = %v, want ErrInvalidCount", err)
	}
	if bus.CallbackCount() != 0 {
		t.Errorf("CallbackCount() = %d, want 0", bus.CallbackCount())
	}
}

func TestEventbus_OnOffNeutral(t *testing.T) {
	bus := New()
	if err := bus.On("existing", value(0)); err != nil {
		t.Fatalf("On() failed: %v", err)
	}
	events, callbacks := bus.EventCount(), bus.CallbackCount()

	for _, name := range []string{"a", "existing", "b c"} {
		cb := value(1)
		if err := bus.On(name, cb); err != nil {
			t.Fatalf("On(%q) failed: %v", name, err)
		}
		bus.Off(name, cb, nil)

		if bus.EventCount() != events {
			t.Errorf("after On/Off(%q) EventCount() = %d, want %d", name, bus.EventCount(), events)
		}
		if bus.CallbackCount() != callbacks {
			t.Errorf("after On/Off(%q) CallbackCount() = %d, want %d", name, bus.CallbackCount(), callbacks)
		}
	}
}

func TestEventbus_MultiName(t *testing.T) {
	bus := New()
	if err := bus.On("a b  c", value(1)); err != nil {
		t.Fatalf("On() failed: %v", err)
	}
	if bus.EventCount() != 3 {
		t.Errorf("EventCount() = %d, want 3", bus.EventCount())
	}
	if bus.CallbackCount() != 3 {
		t.Errorf("CallbackCount() = %d, want 3", bus.CallbackCount())
	}
}

func TestEventbus_OffConjunctive(t *testing.T) {
	bus := New()
	ctxA, ctxB := new(int), new(int)
	cb1, cb2 := value(1), value(2)

	bus.On("a", cb1, WithContext(ctxA))
	bus.On("a", cb1, WithContext(ctxB))
	bus.On("a", cb2, WithContext(ctxA))
	bus.On("b", cb1, WithContext(ctxA))

	bus.Off("a", cb1, ctxA)
	if got := bus.CallbackCount(); got != 3 {
		t.Fatalf("after Off(a, cb1, ctxA) CallbackCount() = %d, want 3", got)
	}

	bus.Off("", nil, ctxA)
	if got := bus.CallbackCount(); got != 1 {
		t.Fatalf("after Off(ctxA) CallbackCount() = %d, want 1", got)
	}

	result, err := bus.TriggerSync("a")
	if err != nil {
		t.Fatalf("TriggerSync() failed: %v", err)
	}
	if result != 1 {
		t.Errorf("TriggerSync(a) = %v, want 1", result)
	}

	bus.Off("", nil, nil)
	if bus.EventCount() != 0 || bus.CallbackCount() != 0 {
		t.Errorf("Off() left %d events, %d callbacks", bus.EventCount(), bus.CallbackCount())
	}
}

func TestEventbus_Guard(t *testing.T) {
	bus := New()
	guard := value("guard")

	if err := bus.On("g", guard, WithGuard()); err != nil {
		t.Fatalf("On(guard) failed: %v", err)
	}
	if !bus.IsGuarded("g") {
		t.Fatal("IsGuarded(g) = false")
	}

	if err := bus.On("g", value(1)); err != nil {
		t.Errorf("On() on guarded event returned error %v, want nil", err)
	}
	if err := bus.Once("g", value(2)); err != nil {
		t.Errorf("Once() on guarded event returned error %v, want nil", err)
	}
	if err := bus.On("x g", value(3)); err != nil {
		t.Errorf("On(x g) returned error %v, want nil", err)
	}
	if bus.CallbackCount() != 1 {
		t.Errorf("CallbackCount() = %d, want 1", bus.CallbackCount())
	}
	if bus.EventCount() != 1 {
		t.Errorf("EventCount() = %d, want 1, multi-name registration must be rejected as a whole", bus.EventCount())
	}
	if got := bus.Stats().GuardRejections; got != 3 {
		t.Errorf("Stats().GuardRejections = %d, want 3", got)
	}

	bus.Off("g", guard, nil)
	if err := bus.On("g", value(4)); err != nil {
		t.Fatalf("On() after guard removal failed: %v", err)
	}
	if bus.CallbackCount() != 1 || bus.IsGuarded("g") {
		t.Error("registration after guard removal was not accepted")
	}
}

func TestEventbus_Before(t *testing.T) {
	bus := New()
	calls := 0
	cb := NewCallback(func(...any) any {
		calls++
		return nil
	})

	if err := bus.Before(2, "tick", cb); err != nil {
		t.Fatalf("Before() failed: %v", err)
	}
	for range 4 {
		if err := bus.Trigger("tick"); err != nil {
			t.Fatalf("Trigger() failed: %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("callback called %d times, want 2", calls)
	}
	if bus.CallbackCount() != 0 {
		t.Errorf("CallbackCount() = %d, want 0 after expiry", bus.CallbackCount())
	}
}

func TestEventbus_Once(t *testing.T) {
	bus := New()
	calls := 0
	bus.Once("a", NewCallback(func(...any) any {
		calls++
		return nil
	}))

	bus.Trigger("a")
	bus.Trigger("a")

	if calls != 1 {
		t.Errorf("callback called %d times, want 1", calls)
	}
	if bus.EventCount() != 0 {
		t.Errorf("EventCount() = %d, want 0", bus.EventCount())
	}
}

func TestEventbus_OnMap(t *testing.T) {
	bus := New()
	err := bus.OnMap(map[string]*Callback{
		"a":   value(1),
		"b c": value(2),
	})
	if err != nil {
		t.Fatalf("OnMap() failed: %v", err)
	}
	keys := slices.Collect(bus.Keys(nil))
	if !slices.Equal(keys, []string{"a", "b", "c"}) {
		t.Errorf("Keys() = %v, want [a b c]", keys)
	}

	if err := bus.OnMap(map[string]*Callback{"d": nil}); !errors.Is(err, ErrNilCallback) {
		t.Errorf("OnMap(nil callback) error = %v, want ErrNilCallback", err)
	}
}

func TestEventbus_GetType(t *testing.T) {
	bus := New()
	bus.On("plain", value(1))
	bus.On("sync", value(1), WithType(TypeSync))
	bus.On("async", NewAsyncCallback(func(ctx context.Context, _ ...any) (any, error) { return nil, nil }))
	bus.On("mixed", value(1), WithType(TypeSync))
	bus.On("mixed", NewAsyncCallback(func(ctx context.Context, _ ...any) (any, error) { return nil, nil }))

	tests := []struct {
		name string
		want CallbackType
	}{
		{"plain", TypeNone},
		{"sync", TypeSync},
		{"async", TypeAsync},
		{"mixed", TypeSync | TypeAsync},
		{"missing", TypeNone},
		{"sync async", TypeSync | TypeAsync},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bus.GetType(tt.name); got != tt.want {
				t.Errorf("GetType(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestEventbus_AsyncHintIgnored(t *testing.T) {
	bus := New()
	cb := NewAsyncCallback(func(ctx context.Context, _ ...any) (any, error) { return nil, nil })
	bus.On("a", cb, WithType(TypeSync))

	if got := bus.GetType("a"); got != TypeAsync {
		t.Errorf("GetType() = %v, want %v", got, TypeAsync)
	}
}

func TestEventbus_EntriesRestartable(t *testing.T) {
	bus := New()
	ctx := new(int)
	cb := value(1)
	bus.On("plugin:a", cb, WithContext(ctx))
	bus.Before(3, "plugin:b", value(2), WithGuard())
	bus.On("other", value(3))

	filter := regexp.MustCompile(`^plugin:`)
	seq := bus.Entries(filter)

	for pass := range 2 {
		var names []string
		for name, entries := range seq {
			names = append(names, name)
			if name == "plugin:a" {
				if len(entries) != 1 || entries[0].Callback != cb || entries[0].Context != ctx {
					t.Errorf("pass %d: entries for plugin:a = %+v", pass, entries)
				}
			}
			if name == "plugin:b" {
				if entries[0].Remaining != 3 || !entries[0].Options.Guard {
					t.Errorf("pass %d: entries for plugin:b = %+v", pass, entries)
				}
			}
		}
		if !slices.Equal(names, []string{"plugin:a", "plugin:b"}) {
			t.Errorf("pass %d: Entries() names = %v", pass, names)
		}
	}

	for name, opts := range bus.KeysWithOptions(filter) {
		if name == "plugin:b" && !opts.Guard {
			t.Error("KeysWithOptions(plugin:b) not guarded")
		}
	}

	all := slices.Collect(bus.Keys(nil))
	if len(all) != 3 {
		t.Errorf("Keys(nil) = %v, want 3 names", all)
	}
}

func TestEventbus_EntriesEarlyBreak(t *testing.T) {
	bus := New()
	bus.On("a b c", value(1))

	count := 0
	for range bus.Keys(nil) {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("iterated %d keys, want 2", count)
	}
}

func TestEventbus_Stats(t *testing.T) {
	bus := New()
	bus.On("a", value(1))
	bus.On("b", NewCallbackErr(func(...any) (any, error) { return nil, errors.New("boom") }))

	bus.Trigger("a")
	bus.Trigger("b")

	stats := bus.Stats()
	if stats.Events != 2 {
		t.Errorf("Events = %d, want 2", stats.Events)
	}
	if stats.Triggered != 2 {
		t.Errorf("Triggered = %d, want 2", stats.Triggered)
	}
	if stats.CallbacksInvoked != 2 {
		t.Errorf("CallbacksInvoked = %d, want 2", stats.CallbacksInvoked)
	}
	if stats.CallbackErrors != 1 {
		t.Errorf("CallbackErrors = %d, want 1", stats.CallbackErrors)
	}
}
