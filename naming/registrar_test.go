package naming

import "testing"

func TestNewRegistrar(t *testing.T) {
	r, err := NewRegistrar("")
	if err != nil {
		t.Fatalf("NewRegistrar: %v", err)
	}
	if r.client == nil {
		t.Fatal("consul client not constructed")
	}
}

func TestDeregisterWithoutRegister(t *testing.T) {
	r, err := NewRegistrar("127.0.0.1:8500")
	if err != nil {
		t.Fatalf("NewRegistrar: %v", err)
	}
	// Nothing registered yet; must be a no-op, not a consul call.
	if err := r.Deregister(); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
}
