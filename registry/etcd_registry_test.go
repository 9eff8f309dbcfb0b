package registry

import (
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// Needs a running etcd; set ETCD_ENDPOINTS=127.0.0.1:2379 to enable.
func TestRegisterAndDiscover(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	inst1 := NodeInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0.0"}
	inst2 := NodeInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0.0", Processes: map[string]string{"sign": "1.2.0"}}

	if err := reg.Register("alice.os", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("alice.os", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover("alice.os")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister("alice.os", inst1.Addr); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover("alice.os")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s after deregister, got %+v", inst2.Addr, instances)
	}
	if !instances[0].Hosts("sign") || instances[0].Hosts("chat") {
		t.Fatalf("process list lost in round trip: %+v", instances[0])
	}

	reg.Deregister("alice.os", inst2.Addr)
	if _, err := reg.Discover("alice.os"); err != ErrNodeNotFound {
		t.Fatalf("expect ErrNodeNotFound, got %v", err)
	}
}
