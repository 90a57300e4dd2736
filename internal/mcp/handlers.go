package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fanyang89/sql-insight/internal/logingest"
	"github.com/fanyang89/sql-insight/internal/negotiate"
)

// collectTimeout bounds one collect_once call. The scheduler applies its own
// per-attempt timeout inside it.
const collectTimeout = 10 * time.Minute

// probeFields are the negotiate.Probe JSON names accepted by negotiate_level.
var probeFields = []string{
	"has_mysql_status_access",
	"has_mysql_variables_access",
	"has_information_schema_access",
	"has_replication_status_access",
	"has_os_metrics_access",
	"can_enable_slow_log_hot_switch",
	"can_read_slow_log",
	"can_read_error_log",
	"performance_schema_enabled",
	"has_performance_schema_access",
	"has_sys_schema_access",
	"can_capture_tcpdump_short_window",
	"can_capture_perf_short_window",
	"can_capture_strace_short_window",
	"can_sample_innodb_status_high_frequency",
}

type handlers struct {
	collect CollectFunc
}

// negotiateResponse is negotiate.Result plus the formatted reasons.
type negotiateResponse struct {
	RequestedLevel   negotiate.Level        `json:"requested_level"`
	SelectedLevel    negotiate.Level        `json:"selected_level"`
	DowngradeReasons []string               `json:"downgrade_reasons"`
	Evaluations      []negotiate.Evaluation `json:"evaluations"`
	TaskNames        []string               `json:"tasks"`
}

func (h *handlers) handleCollectOnce(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.collect == nil {
		return errResult("collection is not configured"), nil
	}
	args := getArgs(request)
	engine := stringArg(args, "engine", "")
	level := stringArg(args, "level", "")
	if level != "" {
		if _, err := negotiate.ParseLevel(level); err != nil {
			return errResult(err.Error()), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	rec, err := h.collect(ctx, engine, level)
	if err != nil {
		return errResult(fmt.Sprintf("collection failed: %v", err)), nil
	}
	return jsonResult(rec)
}

func (h *handlers) handleNegotiateLevel(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)

	preferred, err := negotiate.ParseLevel(stringArg(args, "preferred_level", "Level 3"))
	if err != nil {
		return errResult(fmt.Sprintf("preferred_level: %v", err)), nil
	}
	maxLevel, err := negotiate.ParseLevel(stringArg(args, "max_accepted_level", "Level 2"))
	if err != nil {
		return errResult(fmt.Sprintf("max_accepted_level: %v", err)), nil
	}
	policy := negotiate.Policy{
		PreferredLevel:    preferred,
		MaxAcceptedLevel:  maxLevel,
		ExpertModeEnabled: boolArg(args, "expert_mode_enabled"),
	}

	probe, err := probeFromArgs(args)
	if err != nil {
		return errResult(err.Error()), nil
	}

	res := negotiate.Negotiate(policy, probe)
	reasons := res.DowngradeReasons(negotiate.ReasonMapper(stringArg(args, "engine", "mysql")))
	if reasons == nil {
		reasons = []string{}
	}
	return jsonResult(negotiateResponse{
		RequestedLevel:   policy.Target(),
		SelectedLevel:    res.SelectedLevel,
		DowngradeReasons: reasons,
		Evaluations:      res.Evaluations,
		TaskNames:        negotiate.TaskNames(res.Tasks),
	})
}

func (h *handlers) handleListTasks(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	raw := stringArg(args, "level", "")
	if raw == "" {
		return errResult("level is required"), nil
	}
	level, err := negotiate.ParseLevel(raw)
	if err != nil {
		return errResult(err.Error()), nil
	}
	tasks := negotiate.TasksForLevel(level, negotiate.Probe{
		HasSysSchemaAccess: boolArg(args, "has_sys_schema_access"),
	})
	return jsonResult(tasks)
}

func (h *handlers) handleFingerprintSQL(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sql := stringArg(getArgs(request), "sql", "")
	if sql == "" {
		return errResult("sql is required"), nil
	}
	return newTextResult(logingest.Fingerprint(sql)), nil
}

// probeFromArgs builds a Probe from the boolean arguments named after its
// JSON fields.
func probeFromArgs(args map[string]interface{}) (negotiate.Probe, error) {
	flags := make(map[string]bool, len(probeFields))
	for _, name := range probeFields {
		flags[name] = boolArg(args, name)
	}
	var probe negotiate.Probe
	data, err := json.Marshal(flags)
	if err != nil {
		return probe, fmt.Errorf("encode probe: %w", err)
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return probe, fmt.Errorf("decode probe: %w", err)
	}
	return probe, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

// getArgs safely extracts the arguments map from a CallToolRequest.
// Returns an empty map if Arguments is nil or not a map.
func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

// stringArg extracts a string argument with a default value.
func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

// boolArg accepts JSON booleans and the strings "true"/"false".
func boolArg(args map[string]interface{}, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

// errResult creates an MCP tool error result (IsError=true).
// This is returned as a tool-level error, not a transport-level JSON-RPC error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
	}
}
