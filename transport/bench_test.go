package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"caller-rpc/dispatch"
	"caller-rpc/envelope"
	"caller-rpc/registry"
	"caller-rpc/server"
	"caller-rpc/stub"
)

func setupBench(b *testing.B) *dispatch.Caller {
	svr := server.NewServer("alice.os")
	if err := svr.Register("math", mathRouter()); err != nil {
		b.Fatal(err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	reg := registry.NewStaticRegistry()
	go svr.ServeListener(l, "", reg)
	b.Cleanup(func() { svr.Shutdown(3 * time.Second) })
	for i := 0; i < 100; i++ {
		if _, err := reg.Discover("alice.os"); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	nb := NewNodeBus(reg)
	c := dispatch.New(nb, self)
	b.Cleanup(func() {
		c.Close()
		nb.Close()
	})
	return c
}

// One goroutine, calls back to back.
func BenchmarkSerialCall(b *testing.B) {
	c := setupBench(b)
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := stub.Call(ctx, c, mathSvc, add, envelope.Pair(1, 2)).Unwrap(); err != nil {
			b.Fatal(err)
		}
	}
}

// Many goroutines multiplexed over one connection.
func BenchmarkConcurrentCall(b *testing.B) {
	c := setupBench(b)
	ctx := context.Background()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := stub.Call(ctx, c, mathSvc, add, envelope.Pair(1, 2)).Unwrap(); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
