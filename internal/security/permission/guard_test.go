package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
	"github.com/llmos-bridge/daemon/internal/model"
)

func powerUserProfile() *model.PermissionProfile {
	return &model.PermissionProfile{
		Name:            model.ProfilePowerUser,
		AllowedPatterns: []string{"*.*"},
		MaxPlanActions:  200,
	}
}

func TestCheckPlan_ActionCountExceeded(t *testing.T) {
	profile := &model.PermissionProfile{
		Name:            model.ProfileReadonly,
		AllowedPatterns: []string{"*.*"},
		MaxPlanActions:  1,
	}
	g := NewGuard(profile, nil, nil)
	plan := &model.IMLPlan{Actions: []model.IMLAction{{ID: "a1"}, {ID: "a2"}}}

	err := g.CheckPlan(plan)
	require.Error(t, err)
	kind, ok := imlerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, imlerrors.PermissionDenied, kind)
}

func TestCheckPlan_DisallowedActionRejected(t *testing.T) {
	profile := Builtins[model.ProfileReadonly]
	g := NewGuard(profile, nil, nil)
	plan := &model.IMLPlan{Actions: []model.IMLAction{{ID: "a1", Module: "filesystem", Action: "write_file"}}}

	err := g.CheckPlan(plan)
	require.Error(t, err)
}

func TestCheckAction_RequiresApprovalFlag(t *testing.T) {
	g := NewGuard(powerUserProfile(), nil, nil)
	action := &model.IMLAction{ID: "a1", Module: "filesystem", Action: "delete_file", RequiresApproval: true}

	err := g.CheckAction(action, "p1")
	require.Error(t, err)
	kind, _ := imlerrors.KindOf(err)
	assert.Equal(t, imlerrors.ApprovalRequired, kind)
}

func TestCheckAction_RequireApprovalForConfig(t *testing.T) {
	g := NewGuard(powerUserProfile(), []string{"database.delete_record"}, nil)
	action := &model.IMLAction{ID: "a1", Module: "database", Action: "delete_record"}

	err := g.CheckAction(action, "p1")
	require.Error(t, err)
	kind, _ := imlerrors.KindOf(err)
	assert.Equal(t, imlerrors.ApprovalRequired, kind)
}

func TestCheckAction_UnrestrictedBypassesApproval(t *testing.T) {
	profile := Builtins[model.ProfileUnrestricted]
	g := NewGuard(profile, nil, nil)
	action := &model.IMLAction{ID: "a1", Module: "filesystem", Action: "delete_file", RequiresApproval: true}

	assert.NoError(t, g.CheckAction(action, "p1"))
}

func TestCheckAction_SandboxFilesystemPath(t *testing.T) {
	g := NewGuard(powerUserProfile(), nil, []string{"/home/user/safe"})

	inside := &model.IMLAction{ID: "a1", Module: "filesystem", Action: "read_file", Params: map[string]any{"path": "/home/user/safe/file.txt"}}
	assert.NoError(t, g.CheckAction(inside, "p1"))

	outside := &model.IMLAction{ID: "a2", Module: "filesystem", Action: "read_file", Params: map[string]any{"path": "/etc/passwd"}}
	err := g.CheckAction(outside, "p1")
	require.Error(t, err)
	kind, _ := imlerrors.KindOf(err)
	assert.Equal(t, imlerrors.PermissionDenied, kind)
}

func TestCheckAction_SandboxAppliesAcrossModules(t *testing.T) {
	g := NewGuard(powerUserProfile(), nil, []string{"/home/user/safe"})

	action := &model.IMLAction{ID: "a1", Module: "excel", Action: "open_workbook", Params: map[string]any{"path": "/etc/shadow"}}
	err := g.CheckAction(action, "p1")
	require.Error(t, err)
}

func TestCheckAction_SandboxSkipsUnresolvedTemplate(t *testing.T) {
	g := NewGuard(powerUserProfile(), nil, []string{"/home/user/safe"})

	action := &model.IMLAction{ID: "a2", Module: "excel", Action: "open_workbook", Params: map[string]any{"path": "{{result.a1.path}}"}}
	assert.NoError(t, g.CheckAction(action, "p1"))
}

func TestCheckSandboxParams_PostResolution(t *testing.T) {
	g := NewGuard(powerUserProfile(), nil, []string{"/home/user/safe"})

	err := g.CheckSandboxParams("excel", "open_workbook", map[string]any{"path": "/etc/passwd"})
	require.Error(t, err)

	assert.NoError(t, g.CheckSandboxParams("excel", "open_workbook", map[string]any{"path": "/home/user/safe/x.xlsx"}))
}

func TestCheckSandboxParams_MultiplePathKeysAllChecked(t *testing.T) {
	g := NewGuard(powerUserProfile(), nil, []string{"/home/user/safe"})

	params := map[string]any{
		"path":        "/home/user/safe/input.xlsx",
		"output_path": "/tmp/exfiltrated.xlsx",
	}
	err := g.CheckSandboxParams("excel", "save_workbook", params)
	require.Error(t, err)
}

func TestCheckSandboxParams_DatabaseAndImagePathKeys(t *testing.T) {
	g := NewGuard(powerUserProfile(), nil, []string{"/home/user/safe"})

	require.Error(t, g.CheckSandboxParams("database", "connect", map[string]any{"database": "/etc/secret.db"}))
	require.Error(t, g.CheckSandboxParams("powerpoint", "add_image", map[string]any{"image_path": "/etc/shadow"}))
}

func TestCheckSandboxParams_NoSandboxConfiguredAllowsAll(t *testing.T) {
	g := NewGuard(powerUserProfile(), nil, nil)
	assert.NoError(t, g.CheckSandboxParams("filesystem", "read_file", map[string]any{"path": "/etc/passwd"}))
}

func TestIsAllowed_NoRaise(t *testing.T) {
	g := NewGuard(Builtins[model.ProfileReadonly], nil, nil)
	assert.True(t, g.IsAllowed("filesystem", "read_file"))
	assert.False(t, g.IsAllowed("filesystem", "write_file"))
}
