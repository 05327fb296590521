package eventbus_test

import (
	"context"
	"fmt"

	"github.com/dshills/plugbus/internal/eventbus"
)

func Example() {
	bus := eventbus.New()

	bus.On("ping", eventbus.NewCallback(func(args ...any) any {
		return "pong"
	}))

	result, _ := bus.TriggerSync("ping")
	fmt.Println(result)
	// Output: pong
}

func ExampleEventbus_TriggerSync() {
	bus := eventbus.New()
	bus.On("count", eventbus.NewCallback(func(...any) any { return 1 }))
	bus.On("count", eventbus.NewCallback(func(...any) any { return nil }))
	bus.On("count", eventbus.NewCallback(func(...any) any { return 2 }))

	result, _ := bus.TriggerSync("count")
	fmt.Println(result)
	// Output: [1 2]
}

func ExampleEventbus_TriggerAsync() {
	bus := eventbus.New()
	bus.On("load", eventbus.NewAsyncCallback(func(ctx context.Context, args ...any) (any, error) {
		return fmt.Sprintf("loaded %v", args[0]), nil
	}))

	result, _ := bus.TriggerAsync(context.Background(), "load", "config")
	fmt.Println(result)
	// Output: loaded config
}

func ExampleProxy() {
	bus := eventbus.New()
	proxy := eventbus.NewProxy(bus)

	proxy.On("hello", eventbus.NewCallback(func(...any) any { return "world" }))
	before, _ := bus.TriggerSync("hello")

	proxy.Destroy()
	after, _ := bus.TriggerSync("hello")

	fmt.Println(before, after)
	// Output: world <nil>
}
