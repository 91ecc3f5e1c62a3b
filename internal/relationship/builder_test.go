package relationship

import (
	"context"
	"testing"

	"github.com/opsforge/txengine/internal/resource"
)

type testRes struct {
	kind, name string
	parent     resource.Res
	depends    []resource.Dependency
	autoreq    []resource.Dependency
	container  bool
}

func (r *testRes) Kind() string                         { return r.kind }
func (r *testRes) Name() string                         { return r.name }
func (r *testRes) Ref() string                          { return r.kind + "[" + r.name + "]" }
func (r *testRes) Parent() resource.Res                 { return r.parent }
func (r *testRes) BuildDepends() []resource.Dependency  { return r.depends }
func (r *testRes) Autorequire() []resource.Dependency   { return r.autoreq }
func (r *testRes) Tagged(tags []string) bool            { return true }
func (r *testRes) Scheduled() bool                      { return true }
func (r *testRes) Evaluate(context.Context) (any, error) { return nil, nil }
func (r *testRes) Debug(string)                         {}
func (r *testRes) Info(string)                          {}
func (r *testRes) Notice(string)                        {}
func (r *testRes) Warning(string)                       {}
func (r *testRes) Err(string)                           {}
func (r *testRes) IsContainer() bool                    { return r.container }

var _ resource.Container = (*testRes)(nil)

func TestBuildOrdersByRequire(t *testing.T) {
	dir := &testRes{kind: "directory", name: "/etc/app"}
	file := &testRes{kind: "file", name: "/etc/app/config"}
	file.depends = []resource.Dependency{{Kind: resource.Require, Target: dir}}

	result, diags := Build([]resource.Res{dir, file})
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}

	dirIdx := indexOf(t, result, dir)
	fileIdx := indexOf(t, result, file)
	if dirIdx >= fileIdx {
		t.Fatalf("expected directory before file, got order %v", result.Order)
	}
}

func TestBuildDetectsCycle(t *testing.T) {
	a := &testRes{kind: "svc", name: "a"}
	b := &testRes{kind: "svc", name: "b"}
	a.depends = []resource.Dependency{{Kind: resource.Require, Target: b}}
	b.depends = []resource.Dependency{{Kind: resource.Require, Target: a}}

	_, diags := Build([]resource.Res{a, b})
	if !diags.HasErrors() {
		t.Fatal("expected a fatal diagnostic for a cyclic graph")
	}
}

func TestBuildSplicesContainerMembership(t *testing.T) {
	class := &testRes{kind: "class", name: "web", container: true}
	pkg := &testRes{kind: "package", name: "nginx", parent: class}
	svc := &testRes{kind: "service", name: "nginx"}
	svc.depends = []resource.Dependency{{Kind: resource.Require, Target: class}}

	result, diags := Build([]resource.Res{class, pkg, svc})
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}

	if _, ok := result.VertexOf[class]; ok {
		t.Fatal("container vertex should not survive Build")
	}
	pkgIdx := indexOf(t, result, pkg)
	svcIdx := indexOf(t, result, svc)
	if pkgIdx >= svcIdx {
		t.Fatalf("expected container member before its dependent, got order %v", result.Order)
	}
}

func TestBuildSkipsExistingAutorequireEdge(t *testing.T) {
	dir := &testRes{kind: "directory", name: "/etc/app"}
	file := &testRes{kind: "file", name: "/etc/app/config"}
	file.depends = []resource.Dependency{{Kind: resource.Require, Target: dir}}
	file.autoreq = []resource.Dependency{{Kind: resource.Require, Target: dir}}

	result, diags := Build([]resource.Res{dir, file})
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	dirV, fileV := result.VertexOf[dir], result.VertexOf[file]
	if got := len(result.Graph.EdgeLabels(dirV, fileV)); got != 1 {
		t.Fatalf("expected autorequire not to duplicate an existing edge, got %d edges", got)
	}
}

func indexOf(t *testing.T, result Result, r resource.Res) int {
	t.Helper()
	v, ok := result.VertexOf[r]
	if !ok {
		t.Fatalf("resource %s not present in result", r.Ref())
	}
	for i, id := range result.Order {
		if id == v {
			return i
		}
	}
	t.Fatalf("vertex for %s not present in order", r.Ref())
	return -1
}
