// Command pingpong is a minimal end-to-end demonstration of the engine:
// two Facades wired over an in-memory transport pair, one registering a
// unary "echo" method and a server-streaming "count" method, the other
// invoking both and measuring a ping round-trip. Grounded on
// golang.org/x/tools/internal/mcp/examples/hello/main.go's shape (a small
// main that builds a server, registers handlers, and drives a session).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/nogipx/rpcengine-go/engine"
	"github.com/nogipx/rpcengine-go/envelope"
	"github.com/nogipx/rpcengine-go/logging"
	"github.com/nogipx/rpcengine-go/middleware"
	"github.com/nogipx/rpcengine-go/registry"
	"github.com/nogipx/rpcengine-go/transport"
)

var pingTimeout = flag.Duration("ping-timeout", 2*time.Second, "timeout for the ping round-trip")

func main() {
	flag.Parse()
	ctx := context.Background()
	log := logging.NewSlog(slog.Default())

	clientTransport, serverTransport := transport.NewLocalPair()

	serverRegistry := registry.New(log)
	mustRegister(serverRegistry, &registry.Descriptor{
		Service: "pingpong",
		Method:  "echo",
		Kind:    registry.Unary,
		Unary: func(ctx context.Context, rc *registry.Context) (any, error) {
			return fmt.Sprintf("echo: %v", rc.Payload), nil
		},
	})
	mustRegister(serverRegistry, &registry.Descriptor{
		Service: "pingpong",
		Method:  "count",
		Kind:    registry.ServerStream,
		ServerStream: func(ctx context.Context, rc *registry.Context) (<-chan registry.StreamEvent, error) {
			n, _ := rc.Payload.(float64)
			if n <= 0 {
				n = 3
			}
			out := make(chan registry.StreamEvent)
			go func() {
				defer close(out)
				for i := 1; i <= int(n); i++ {
					out <- registry.StreamEvent{Value: i}
				}
			}()
			return out, nil
		},
	})

	serverMw := middleware.New(log)
	serverMw.Append(middleware.Hook{
		Name: "access-log",
		OnRequest: func(ctx context.Context, service, method string, payload any, meta *envelope.Metadata, dir middleware.Direction) (any, *envelope.Metadata, error) {
			log.Info(ctx, "server: inbound request", "service", service, "method", method)
			return payload, meta, nil
		},
	})

	server := engine.New(engine.Options{
		Transport:  serverTransport,
		Registry:   serverRegistry,
		Middleware: serverMw,
		Log:        log,
	})
	defer server.Close()

	client := engine.New(engine.Options{
		Transport: clientTransport,
		Registry:  registry.New(log),
		Log:       log,
	})
	defer client.Close()

	reply, err := client.Invoke(ctx, "pingpong", "echo", "hello", 2*time.Second, nil)
	if err != nil {
		fmt.Println("invoke echo failed:", err)
	} else {
		fmt.Println("echo reply:", reply)
	}

	sink, err := client.OpenStream(ctx, "pingpong", "count", float64(5), nil, "")
	if err != nil {
		fmt.Println("open_stream count failed:", err)
	} else {
		for item := range sink.C() {
			if item.Done {
				break
			}
			if item.Err != nil {
				fmt.Println("count stream error:", item.Err)
				break
			}
			fmt.Println("count item:", item.Data)
		}
	}

	rtt, err := client.SendPing(ctx, *pingTimeout)
	if err != nil {
		fmt.Println("ping failed:", err)
	} else {
		fmt.Println("ping rtt:", rtt)
	}
}

func mustRegister(r *registry.Registry, d *registry.Descriptor) {
	ok, err := r.Register(d)
	if err != nil {
		panic(err)
	}
	if !ok {
		panic(fmt.Sprintf("duplicate registration for %s.%s", d.Service, d.Method))
	}
}
