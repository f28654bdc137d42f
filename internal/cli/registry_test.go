package cli

import (
	"os/exec"
	"sync/atomic"
	"testing"

	"github.com/TheLazyLemur/agentorch/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pathWith simulates a search path containing only the given executables.
type pathWith struct {
	present map[string]bool
	probes  atomic.Int32
}

func newPath(executables ...string) *pathWith {
	p := &pathWith{present: map[string]bool{}}
	for _, e := range executables {
		p.present[e] = true
	}
	return p
}

func (p *pathWith) lookPath(file string) (string, error) {
	p.probes.Add(1)
	if p.present[file] {
		return "/usr/local/bin/" + file, nil
	}
	return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
}

func TestResolver_AutoPrefersPrimary(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	// given
	path := newPath("claude", "agent")
	resolver := NewResolver(DefaultRegistry(), path.lookPath)

	// when
	b, err := resolver.Resolve(core.BackendAuto)

	// then
	r.NoError(err)
	a.Equal("claude", b.Name)
	a.Equal("claude", b.Executable)
}

func TestResolver_AutoFallsBackWhenPrimaryMissing(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	// given
	resolver := NewResolver(DefaultRegistry(), newPath("agent").lookPath)

	// when
	b, err := resolver.Resolve("")

	// then
	r.NoError(err)
	a.Equal("cursor", b.Name)
	a.Equal("agent", b.Executable)
}

func TestResolver_AutoNoneFound(t *testing.T) {
	a := assert.New(t)

	// given
	resolver := NewResolver(DefaultRegistry(), newPath().lookPath)

	// when
	_, err := resolver.Resolve(core.BackendAuto)

	// then
	a.True(core.IsKind(err, core.KindBackendNotFound))
	a.Contains(err.Error(), "claude (claude)")
	a.Contains(err.Error(), "cursor (agent)")
}

func TestResolver_ExplicitMissingNeverFallsBack(t *testing.T) {
	a := assert.New(t)

	// given
	resolver := NewResolver(DefaultRegistry(), newPath("agent").lookPath)

	// when
	_, err := resolver.Resolve("claude")

	// then
	a.True(core.IsKind(err, core.KindInvalidBackend))
	a.Contains(err.Error(), "claude")
	a.Contains(err.Error(), "not found on PATH")
}

func TestResolver_ExplicitPresent(t *testing.T) {
	b, err := NewResolver(DefaultRegistry(), newPath("claude", "agent").lookPath).Resolve("cursor")

	require.NoError(t, err)
	assert.Equal(t, "agent", b.Executable)
}

func TestResolver_UnknownName(t *testing.T) {
	a := assert.New(t)

	// given
	path := newPath("claude")
	resolver := NewResolver(DefaultRegistry(), path.lookPath)

	// when
	_, err := resolver.Resolve("gemini")

	// then
	a.True(core.IsKind(err, core.KindInvalidBackend))
	a.Contains(err.Error(), "claude, cursor, auto")
	a.Equal(int32(0), path.probes.Load())
}

func TestRegistry_CheckName(t *testing.T) {
	a := assert.New(t)

	reg := DefaultRegistry()

	a.NoError(reg.CheckName(""))
	a.NoError(reg.CheckName("auto"))
	a.NoError(reg.CheckName("claude"))
	a.NoError(reg.CheckName(" cursor "))

	err := reg.CheckName("bogus")
	a.True(core.IsKind(err, core.KindInvalidBackend))
	a.Contains(err.Error(), "claude, cursor, auto")
}

func TestResolver_Idempotent(t *testing.T) {
	a := assert.New(t)

	resolver := NewResolver(DefaultRegistry(), newPath("claude").lookPath)

	first, err1 := resolver.Resolve("auto")
	second, err2 := resolver.Resolve("auto")

	a.NoError(err1)
	a.NoError(err2)
	a.Equal(first, second)
}

func TestResolver_Available(t *testing.T) {
	a := assert.New(t)

	// when
	avail := NewResolver(DefaultRegistry(), newPath("agent").lookPath).Available()

	// then
	a.Len(avail, 2)
	a.Equal("claude", avail[0].Name)
	a.False(avail[0].Available)
	a.Equal("cursor", avail[1].Name)
	a.True(avail[1].Available)
	a.Equal("/usr/local/bin/agent", avail[1].Path)
}

func TestNewRegistry_DropsDuplicates(t *testing.T) {
	reg := NewRegistry(
		BackendInfo{Name: "a", Executable: "a1"},
		BackendInfo{Name: "a", Executable: "a2"},
		BackendInfo{Name: "b", Executable: "b1"},
	)

	assert.Equal(t, []string{"a", "b"}, reg.Names())
	b, ok := reg.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, "a1", b.Executable)
}
