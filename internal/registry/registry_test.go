package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSupervisor struct {
	mode string
	pid  int
}

func (f *fakeSupervisor) Write(p []byte) error        { return nil }
func (f *fakeSupervisor) Resize(cols, rows int) error { return nil }
func (f *fakeSupervisor) Interrupt() error            { return nil }
func (f *fakeSupervisor) Kill() error                 { return nil }
func (f *fakeSupervisor) Mode() string                { return f.mode }
func (f *fakeSupervisor) PID() int                    { return f.pid }

func TestInstallAndGet(t *testing.T) {
	r := New()
	sup := &fakeSupervisor{mode: "pty", pid: 123}
	r.Install("s1", sup)

	got, err := r.Get("s1")
	require.NoError(t, err)
	require.Same(t, sup, got)
	require.True(t, r.IsLive("s1"))
}

func TestGetUnknownSessionReturnsErrNotLive(t *testing.T) {
	r := New()
	_, err := r.Get("missing")
	require.ErrorIs(t, err, ErrNotLive)
	require.False(t, r.IsLive("missing"))
}

func TestRemovePurgesSession(t *testing.T) {
	r := New()
	r.Install("s1", &fakeSupervisor{mode: "json"})
	r.Remove("s1")
	require.False(t, r.IsLive("s1"))
	_, err := r.Get("s1")
	require.ErrorIs(t, err, ErrNotLive)
}

func TestLiveIDsAndCount(t *testing.T) {
	r := New()
	r.Install("a", &fakeSupervisor{})
	r.Install("b", &fakeSupervisor{})
	require.Equal(t, 2, r.Count())
	require.ElementsMatch(t, []string{"a", "b"}, r.LiveIDs())
}
