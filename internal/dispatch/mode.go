package dispatch

import (
	"fmt"
	"strings"

	"github.com/kimyoungjin06/aoe-orch-control/internal/planner"
)

// modeResolution is the outcome of deciding dispatch-vs-direct and the
// role csv to hand the orchestrator.
type modeResolution struct {
	DispatchMode bool
	RolesCSV     string
}

// resolveDispatchModeAndRoles implements the precedence: an explicit
// --direct always wins; an explicit --dispatch dispatches with its own
// roles or a keyword-derived/"Reviewer" fallback; an explicit --roles
// csv (with no force mode) implies dispatch; otherwise an
// auto-dispatch-enabled keyword match implies dispatch.
func resolveDispatchModeAndRoles(forceMode, rolesOverride, projectRolesCSV string, autoDispatchEnabled bool, prompt string) modeResolution {
	explicitRoles := strings.TrimSpace(rolesOverride)
	if explicitRoles == "" {
		explicitRoles = strings.TrimSpace(projectRolesCSV)
	}

	var autoRoles []string
	if autoDispatchEnabled {
		autoRoles = planner.AutoDispatchRoles(prompt)
	}

	dispatchMode := false
	dispatchRoles := explicitRoles

	switch forceMode {
	case "direct":
		return modeResolution{DispatchMode: false, RolesCSV: ""}
	case "dispatch":
		dispatchMode = true
		if dispatchRoles == "" {
			if len(autoRoles) > 0 {
				dispatchRoles = strings.Join(autoRoles, ",")
			} else {
				dispatchRoles = "Reviewer"
			}
		}
	default:
		switch {
		case dispatchRoles != "":
			dispatchMode = true
		case autoDispatchEnabled && len(autoRoles) > 0:
			dispatchMode = true
			dispatchRoles = strings.Join(autoRoles, ",")
		}
	}

	return modeResolution{DispatchMode: dispatchMode, RolesCSV: dispatchRoles}
}

// dryRunPreviewInput bundles everything buildDryRunPreview needs to
// render the "[DRY-RUN] ..." multi-line summary without dispatching.
type dryRunPreviewInput struct {
	OrchName          string
	DispatchMode      bool
	Prompt            string
	DispatchRoles     string
	RequireVerifier   bool
	VerifierRoles     []string
	VerifierAdded     bool
	ControlMode       string
	SourceRequestID   string
	PlanningEnabled   bool
	PlanReused        bool
	PlanSubtasks      int
	PlanReplans       int
	PlanGateBlocked   bool
	PlanError         string
	EffectivePriority string
	EffectiveTimeout  int
	EffectiveNoWait   bool
}

// buildDryRunPreview renders the exact multi-line preview format the
// gateway sends instead of dispatching when --dry-run is set. Mirrors
// _build_dry_run_preview field-for-field, including its ordering.
func buildDryRunPreview(in dryRunPreviewInput) string {
	mode := "direct"
	if in.DispatchMode {
		mode = "dispatch"
	}
	roles := in.DispatchRoles
	if roles == "" {
		roles = "-"
	}
	verReq := "no"
	if in.RequireVerifier {
		verReq = "yes"
	}
	verRoles := "-"
	if len(in.VerifierRoles) > 0 {
		verRoles = strings.Join(in.VerifierRoles, ", ")
	}
	verAdded := "no"
	if in.VerifierAdded {
		verAdded = "yes"
	}
	controlMode := in.ControlMode
	if controlMode == "" {
		controlMode = "normal"
	}
	sourceReqID := in.SourceRequestID
	if sourceReqID == "" {
		sourceReqID = "-"
	}
	planEnabled := "no"
	if in.PlanningEnabled {
		planEnabled = "yes"
	}
	planReused := "no"
	if in.PlanReused {
		planReused = "yes"
	}
	planGate := "no"
	if in.PlanGateBlocked {
		planGate = "yes"
	}
	planError := in.PlanError
	if planError == "" {
		planError = "-"
	}
	noWait := "no"
	if in.EffectiveNoWait {
		noWait = "yes"
	}

	return fmt.Sprintf(
		"[DRY-RUN] orch=%s mode: %s\n"+
			"- prompt: %s\n"+
			"- roles: %s\n"+
			"- verifier_required: %s\n"+
			"- verifier_roles: %s\n"+
			"- verifier_auto_added: %s\n"+
			"- control_mode: %s\n"+
			"- source_request_id: %s\n"+
			"- task_planning: %s\n"+
			"- plan_reused: %s\n"+
			"- plan_subtasks: %d\n"+
			"- plan_replans: %d\n"+
			"- plan_gate_blocked: %s\n"+
			"- plan_error: %s\n"+
			"- priority: %s\n"+
			"- timeout: %ds\n"+
			"- no_wait: %s",
		in.OrchName, mode, in.Prompt, roles, verReq, verRoles, verAdded,
		controlMode, sourceReqID, planEnabled, planReused, in.PlanSubtasks,
		in.PlanReplans, planGate, planError, in.EffectivePriority,
		in.EffectiveTimeout, noWait,
	)
}
