// Package compat implements the module-version compatibility checker run
// during the executor's preflight: a plan's module_requirements
// (module_id -> version specifier) must be satisfied by the versions the
// Module Registry actually has loaded before any action runs.
package compat

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
)

// Violation is a single unsatisfied module version constraint.
type Violation struct {
	ModuleID           string
	RequiredSpecifier  string
	InstalledVersion   string // empty if the module isn't registered at all
}

// Report is the result of checking one plan's module_requirements.
type Report struct {
	Violations []Violation
}

func (r Report) IsCompatible() bool { return len(r.Violations) == 0 }

// FormatErrors renders a human-readable summary, one line per violation.
func (r Report) FormatErrors() string {
	lines := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		if v.InstalledVersion == "" {
			lines = append(lines, fmt.Sprintf("  - Module %q required (%s) but is not registered.", v.ModuleID, v.RequiredSpecifier))
		} else {
			lines = append(lines, fmt.Sprintf("  - Module %q required %s, installed %s.", v.ModuleID, v.RequiredSpecifier, v.InstalledVersion))
		}
	}
	return strings.Join(lines, "\n")
}

// Checker validates module_requirements against a snapshot of installed
// module versions. Grounded directly on original_source's
// protocol/compat.py ModuleVersionChecker, including its unknown-module
// and invalid-specifier failure modes and its CompatibilityReport/
// CompatibilityViolation shape. The one substitution: Python leans on the
// `packaging` library's full PEP-440 SpecifierSet; Go has no ecosystem
// PEP-440 implementation, so specifiers here are parsed as a
// comma-separated list of (operator, dotted-version) clauses compared via
// golang.org/x/mod/semver — already an indirect dependency of the teacher
// via its toolchain graph, now wired directly as this module's version
// comparator, rather than reaching for PEP-440 syntax (pre-release
// qualifiers, wildcard specifiers) the daemon's own module versions never
// actually use.
type Checker struct {
	versions map[string]string
}

func New(availableVersions map[string]string) *Checker {
	return &Checker{versions: availableVersions}
}

type clause struct {
	op  string
	ver string // canonical "vX.Y.Z" form
}

// Check validates requirements (module_id -> specifier string) and
// returns a Report. A malformed specifier or an unparsable installed
// version produces an error rather than a Report, matching Python's
// fail-fast IMLValidationError for syntax problems (as opposed to
// semantic violations, which land in the Report).
func (c *Checker) Check(requirements map[string]string) (Report, error) {
	var report Report

	for moduleID, specifierStr := range requirements {
		installed, ok := c.versions[moduleID]
		if !ok {
			report.Violations = append(report.Violations, Violation{
				ModuleID:          moduleID,
				RequiredSpecifier: specifierStr,
			})
			continue
		}

		clauses, err := parseSpecifier(specifierStr)
		if err != nil {
			return Report{}, imlerrors.New(imlerrors.ValidationError,
				fmt.Sprintf("module_requirements[%q]: invalid version specifier %q: %v", moduleID, specifierStr, err))
		}

		installedCanon := toSemver(installed)
		if !semver.IsValid(installedCanon) {
			return Report{}, imlerrors.New(imlerrors.ValidationError,
				fmt.Sprintf("module %q has an invalid version string %q", moduleID, installed))
		}

		if !satisfiesAll(installedCanon, clauses) {
			report.Violations = append(report.Violations, Violation{
				ModuleID:          moduleID,
				RequiredSpecifier: specifierStr,
				InstalledVersion:  installed,
			})
		}
	}

	return report, nil
}

// AssertCompatible is the preflight convenience entry point: it returns a
// ValidationError-kinded error carrying the formatted report when
// incompatible, and nil otherwise.
func (c *Checker) AssertCompatible(requirements map[string]string) error {
	report, err := c.Check(requirements)
	if err != nil {
		return err
	}
	if !report.IsCompatible() {
		return imlerrors.New(imlerrors.ValidationError,
			"plan module_requirements are not satisfied:\n"+report.FormatErrors())
	}
	return nil
}

var validOps = map[string]bool{"==": true, "!=": true, ">=": true, "<=": true, ">": true, "<": true, "~=": true}

func parseSpecifier(spec string) ([]clause, error) {
	parts := strings.Split(spec, ",")
	clauses := make([]clause, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty clause")
		}
		op, rest := splitOperator(part)
		if op == "" || !validOps[op] {
			return nil, fmt.Errorf("unrecognised operator in clause %q", part)
		}
		rest = strings.TrimSpace(rest)
		canon := toSemver(rest)
		if !semver.IsValid(canon) {
			return nil, fmt.Errorf("unparsable version in clause %q", part)
		}
		clauses = append(clauses, clause{op: op, ver: canon})
	}
	return clauses, nil
}

func splitOperator(part string) (op, rest string) {
	for _, candidate := range []string{">=", "<=", "==", "!=", "~="} {
		if strings.HasPrefix(part, candidate) {
			return candidate, part[len(candidate):]
		}
	}
	if strings.HasPrefix(part, ">") {
		return ">", part[1:]
	}
	if strings.HasPrefix(part, "<") {
		return "<", part[1:]
	}
	return "", part
}

// toSemver normalises a dotted version string (e.g. "1.0", "2.0.0") into
// the "vX.Y.Z" form golang.org/x/mod/semver expects.
func toSemver(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "v")
	segments := strings.SplitN(v, "-", 2)
	nums := strings.Split(segments[0], ".")
	for len(nums) < 3 {
		nums = append(nums, "0")
	}
	for _, n := range nums {
		if _, err := strconv.Atoi(n); err != nil {
			return "v" + v // let semver.IsValid reject it
		}
	}
	out := "v" + strings.Join(nums[:3], ".")
	if len(segments) == 2 {
		out += "-" + segments[1]
	}
	return out
}

func satisfiesAll(installed string, clauses []clause) bool {
	for _, c := range clauses {
		cmp := semver.Compare(installed, c.ver)
		switch c.op {
		case "==":
			if cmp != 0 {
				return false
			}
		case "!=":
			if cmp == 0 {
				return false
			}
		case ">=":
			if cmp < 0 {
				return false
			}
		case "<=":
			if cmp > 0 {
				return false
			}
		case ">":
			if cmp <= 0 {
				return false
			}
		case "<":
			if cmp >= 0 {
				return false
			}
		case "~=":
			// Compatible release: >= ver and < next-minor-bump.
			if cmp < 0 {
				return false
			}
			if semver.Compare(installed, nextMinor(c.ver)) >= 0 {
				return false
			}
		}
	}
	return true
}

func nextMinor(v string) string {
	major := semver.Major(v)
	majorMinor := semver.MajorMinor(v)
	minorStr := strings.TrimPrefix(majorMinor, major+".")
	minor, err := strconv.Atoi(minorStr)
	if err != nil {
		return v
	}
	return fmt.Sprintf("%s.%d.0", major, minor+1)
}
