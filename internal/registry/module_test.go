package registry

import (
	"context"
	"testing"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
	"github.com/llmos-bridge/daemon/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModule struct {
	id       string
	manifest model.ModuleManifest
}

func (m *fakeModule) ID() string                       { return m.id }
func (m *fakeModule) Manifest() model.ModuleManifest    { return m.manifest }
func (m *fakeModule) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	return map[string]any{"action": action}, nil
}

func newFakeModule(id string) *fakeModule {
	return &fakeModule{id: id, manifest: model.ModuleManifest{ModuleID: id, Version: "1.0.0"}}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewModuleRegistry()
	r.Register(newFakeModule("filesystem"))

	m, err := r.Get("filesystem")
	require.NoError(t, err)
	assert.Equal(t, "filesystem", m.ID())
}

func TestGet_UnknownModuleReturnsModuleNotFound(t *testing.T) {
	r := NewModuleRegistry()
	_, err := r.Get("no_such_module")
	require.Error(t, err)
	kind, ok := imlerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, imlerrors.ModuleNotFound, kind)
}

func TestListAvailable_IncludesRegistered(t *testing.T) {
	r := NewModuleRegistry()
	r.Register(newFakeModule("filesystem"))
	assert.Contains(t, r.ListAvailable(), "filesystem")
}

func TestListFailed_EmptyInitially(t *testing.T) {
	r := NewModuleRegistry()
	assert.Empty(t, r.ListFailed())
}

func TestListPlatformExcluded_EmptyInitially(t *testing.T) {
	r := NewModuleRegistry()
	assert.Empty(t, r.ListPlatformExcluded())
}

func TestIsAvailable(t *testing.T) {
	r := NewModuleRegistry()
	r.Register(newFakeModule("filesystem"))
	assert.True(t, r.IsAvailable("filesystem"))
	assert.False(t, r.IsAvailable("unknown"))
}

func TestGetManifest(t *testing.T) {
	r := NewModuleRegistry()
	r.Register(newFakeModule("filesystem"))
	mf, err := r.GetManifest("filesystem")
	require.NoError(t, err)
	assert.Equal(t, "filesystem", mf.ModuleID)
}

func TestAllManifests(t *testing.T) {
	r := NewModuleRegistry()
	r.Register(newFakeModule("filesystem"))
	manifests := r.AllManifests()
	require.Len(t, manifests, 1)
	assert.Equal(t, "filesystem", manifests[0].ModuleID)
}

func TestStatusReport_ContainsAvailableKey(t *testing.T) {
	r := NewModuleRegistry()
	r.Register(newFakeModule("filesystem"))
	report := r.StatusReport()
	assert.Contains(t, report.Available, "filesystem")
	assert.NotNil(t, report.Failed)
	assert.NotNil(t, report.PlatformExcluded)
}

func TestUnregister_RemovesModule(t *testing.T) {
	r := NewModuleRegistry()
	r.Register(newFakeModule("filesystem"))
	r.Unregister("filesystem")
	assert.NotContains(t, r.ListAvailable(), "filesystem")
}

func TestRegisterDuplicate_DoesNotRaise(t *testing.T) {
	r := NewModuleRegistry()
	r.Register(newFakeModule("filesystem"))
	r.Register(newFakeModule("filesystem"))
	assert.Contains(t, r.ListAvailable(), "filesystem")
}

func TestMarkFailed_ExcludesFromAvailableAndGet(t *testing.T) {
	r := NewModuleRegistry()
	r.Register(newFakeModule("browser"))
	r.MarkFailed("browser", "playwright not installed")

	assert.NotContains(t, r.ListAvailable(), "browser")
	assert.Equal(t, "playwright not installed", r.ListFailed()["browser"])

	_, err := r.Get("browser")
	require.Error(t, err)
	kind, _ := imlerrors.KindOf(err)
	assert.Equal(t, imlerrors.ModuleLoadError, kind)
}

func TestExcludeForPlatform_ListedSeparatelyFromFailed(t *testing.T) {
	r := NewModuleRegistry()
	r.ExcludeForPlatform("iot", "platform 'linux' not in [raspberry_pi]")

	assert.Contains(t, r.ListModules(), "iot")
	assert.NotContains(t, r.ListAvailable(), "iot")
	assert.Empty(t, r.ListFailed())
	assert.Equal(t, "platform 'linux' not in [raspberry_pi]", r.ListPlatformExcluded()["iot"])
}
