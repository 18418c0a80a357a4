// Package permission implements the built-in permission profiles and the
// guard that enforces them at plan preflight and per-action dispatch time.
package permission

import "github.com/llmos-bridge/daemon/internal/model"

var readonlyAllowed = []string{
	"filesystem.read_file",
	"filesystem.list_directory",
	"filesystem.search_files",
	"filesystem.get_file_info",
	"filesystem.compute_checksum",
	"os_exec.list_processes",
	"os_exec.get_process_info",
	"os_exec.get_system_info",
	"os_exec.get_env_var",
	"database.connect",
	"database.disconnect",
	"database.fetch_results",
	"database.list_tables",
	"database.get_table_schema",
	"db_gateway.connect",
	"db_gateway.disconnect",
	"db_gateway.introspect",
	"db_gateway.find",
	"db_gateway.find_one",
	"db_gateway.count",
	"db_gateway.search",
	"db_gateway.aggregate",
}

var localWorkerAllowed = append(append([]string{}, readonlyAllowed...), []string{
	"filesystem.write_file",
	"filesystem.append_file",
	"filesystem.copy_file",
	"filesystem.move_file",
	"filesystem.create_directory",
	"filesystem.create_archive",
	"filesystem.extract_archive",
	"filesystem.watch_path",
	"os_exec.run_command",
	"os_exec.open_application",
	"os_exec.set_env_var",
	"excel.*",
	"word.*",
	"api_http.http_get",
	"api_http.http_post",
	"api_http.http_put",
	"api_http.http_patch",
	"api_http.http_delete",
	"api_http.download_file",
	"api_http.webhook_trigger",
	"database.execute_query",
	"database.insert_record",
	"database.update_record",
	"database.create_table",
	"db_gateway.create",
	"db_gateway.create_many",
	"db_gateway.update",
}...)

var localWorkerDenied = []string{
	"filesystem.delete_file",
	"os_exec.kill_process",
	"database.delete_record",
	"db_gateway.delete",
	"api_http.send_email",
}

var powerUserAllowed = append(append([]string{}, localWorkerAllowed...), []string{
	"filesystem.delete_file",
	"os_exec.kill_process",
	"os_exec.close_application",
	"browser.*",
	"gui.*",
	"database.*",
	"db_gateway.*",
	"api_http.send_email",
	"iot.*",
	"vision.*",
	"computer_control.*",
	"window_tracker.*",
}...)

var unrestrictedAllowed = []string{"*.*"}

// Builtins holds the four built-in permission presets, keyed by name.
// Grounded verbatim on original_source's security/profiles.py
// BUILTIN_PROFILES table — same patterns, same per-profile limits.
var Builtins = map[model.ProfileName]*model.PermissionProfile{
	model.ProfileReadonly: {
		Name:                model.ProfileReadonly,
		AllowedPatterns:     readonlyAllowed,
		MaxPlanActions:      20,
		AllowEnvTemplates:   false,
		AllowApprovalBypass: false,
	},
	model.ProfileLocalWorker: {
		Name:                model.ProfileLocalWorker,
		AllowedPatterns:     localWorkerAllowed,
		DeniedPatterns:      localWorkerDenied,
		MaxPlanActions:      50,
		AllowEnvTemplates:   true,
		AllowApprovalBypass: false,
	},
	model.ProfilePowerUser: {
		Name:                model.ProfilePowerUser,
		AllowedPatterns:     powerUserAllowed,
		MaxPlanActions:      200,
		AllowEnvTemplates:   true,
		AllowApprovalBypass: false,
	},
	model.ProfileUnrestricted: {
		Name:                model.ProfileUnrestricted,
		AllowedPatterns:     unrestrictedAllowed,
		MaxPlanActions:      500,
		AllowEnvTemplates:   true,
		AllowApprovalBypass: true,
	},
}

// Get returns the built-in profile for name, or false if name isn't one of
// the four presets.
func Get(name model.ProfileName) (*model.PermissionProfile, bool) {
	p, ok := Builtins[name]
	return p, ok
}
