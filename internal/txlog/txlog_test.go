package txlog

import "testing"

func TestHCLoggerIsSingleton(t *testing.T) {
	a := HCLogger()
	b := HCLogger()
	if a != b {
		t.Fatal("HCLogger() should return the same logger on repeated calls")
	}
}

func TestNamedReturnsChildLogger(t *testing.T) {
	child := Named("engine")
	if child.Name() != "txengine.engine" {
		t.Errorf("Named(\"engine\").Name() = %q, want %q", child.Name(), "txengine.engine")
	}
}
