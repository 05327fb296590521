// Package eventbus provides the in-process eventbus plugins and the plugin
// manager talk over.
//
// # Architecture
//
//	┌───────────────────────────────────────────────┐
//	│                   Eventbus                     │
//	│  - name → ordered registrations                │
//	│  - guard checks                                │
//	│  - Trigger / TriggerSync / TriggerAsync /      │
//	│    TriggerDefer                                │
//	│  - ListenTo / StopListening bookkeeping        │
//	└───────────────────────────────────────────────┘
//	          ▲                          ▲
//	          │                          │
//	┌──────────────────┐        ┌──────────────────┐
//	│      Proxy        │        │      Secure       │
//	│  - scoped On/Off  │        │  - trigger only   │
//	│  - shadow map     │        │  - swappable bus  │
//	└──────────────────┘        └──────────────────┘
//
// # Registration
//
// Callbacks are wrapped in a *Callback so they can be compared:
//
//	pong := eventbus.NewCallback(func(args ...any) any { return "pong" })
//	bus.On("ping", pong)
//	result, _ := bus.TriggerSync("ping") // "pong"
//	bus.Off("ping", pong, nil)
//
// Names may be space separated ("a b c") to register or trigger several at
// once. Every trigger is also delivered to callbacks on the literal "all"
// channel with the event name as the first argument.
//
// A registration made WithGuard locks its event name: further On, Once and
// Before calls for the name are rejected with a logged warning until the
// guarded registration is removed.
//
// # Results
//
// TriggerSync collects the non-nil results of every callback. No results
// yield nil, one result is returned bare and several are returned as []any.
// TriggerAsync does the same after awaiting every Awaitable result.
//
// # Proxies
//
// A Proxy registers through its backing bus and remembers what it
// registered. Off and Destroy on a proxy only ever remove those entries, so
// each plugin can be handed its own proxy and cleaned up without touching
// anyone else's callbacks.
package eventbus
