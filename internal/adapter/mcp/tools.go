package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tillerhq/tiller/internal/domain/action"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.submitActionTool(),
		s.getActionTool(),
		s.getQueueTool(),
		s.getPendingCountTool(),
		s.requestUndoTool(),
	)
}

func (s *Server) submitActionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_action",
		mcplib.WithDescription("Propose an action on behalf of a user. The returned status and mode tell the agent whether the action ran immediately or awaits approval."),
		mcplib.WithString("user_id", mcplib.Required(), mcplib.Description("The user the action is performed for")),
		mcplib.WithString("agent", mcplib.Description("Identifier of the proposing agent")),
		mcplib.WithString("action_type", mcplib.Required(), mcplib.Description("Action type, e.g. email_draft, crm_update, research")),
		mcplib.WithString("risk_level", mcplib.Required(), mcplib.Description("Self-assessed risk: low, medium, high, or critical")),
		mcplib.WithNumber("risk_score", mcplib.Description("Optional explicit risk score in [0,1], overrides the level mapping")),
		mcplib.WithString("title", mcplib.Required(), mcplib.Description("Short human-readable summary")),
		mcplib.WithString("description", mcplib.Description("What the action will do")),
		mcplib.WithString("reasoning", mcplib.Description("Why the agent proposes it")),
		mcplib.WithObject("payload", mcplib.Description("Action parameters, including previous_state for reversible updates")),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleSubmitAction,
	}
}

func (s *Server) getActionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_action",
		mcplib.WithDescription("Get the current status of a previously submitted action"),
		mcplib.WithString("action_id", mcplib.Required(), mcplib.Description("The action ID")),
		mcplib.WithString("user_id", mcplib.Required(), mcplib.Description("The owning user")),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetAction,
	}
}

func (s *Server) getQueueTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_queue",
		mcplib.WithDescription("List a user's actions, optionally filtered by status"),
		mcplib.WithString("user_id", mcplib.Required(), mcplib.Description("The user whose queue to list")),
		mcplib.WithString("status", mcplib.Description("Optional status filter, e.g. pending")),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetQueue,
	}
}

func (s *Server) getPendingCountTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_pending_count",
		mcplib.WithDescription("Number of actions awaiting the user's approval"),
		mcplib.WithString("user_id", mcplib.Required(), mcplib.Description("The user to count for")),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetPendingCount,
	}
}

func (s *Server) requestUndoTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("request_undo",
		mcplib.WithDescription("Reverse an executed action while its undo window is open. Use only when relaying an explicit user request."),
		mcplib.WithString("action_id", mcplib.Required(), mcplib.Description("The action to undo")),
		mcplib.WithString("user_id", mcplib.Required(), mcplib.Description("The owning user")),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleRequestUndo,
	}
}

func (s *Server) handleSubmitAction(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()

	sub := action.SubmitRequest{
		UserID:      stringArg(args, "user_id"),
		Agent:       stringArg(args, "agent"),
		ActionType:  stringArg(args, "action_type"),
		RiskLevel:   action.RiskLevel(stringArg(args, "risk_level")),
		Title:       stringArg(args, "title"),
		Description: stringArg(args, "description"),
		Reasoning:   stringArg(args, "reasoning"),
	}
	if payload, ok := args["payload"].(map[string]any); ok {
		sub.Payload = payload
	}
	if score, ok := args["risk_score"].(float64); ok {
		sub.RiskScore = &score
	}

	a, err := s.engine.Submit(ctx, sub)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to submit action", err), nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal action", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetAction(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	actionID := stringArg(args, "action_id")
	userID := stringArg(args, "user_id")
	if actionID == "" || userID == "" {
		return mcplib.NewToolResultError("action_id and user_id are required"), nil
	}

	a, err := s.engine.Get(ctx, actionID, userID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get action %s", actionID), err,
		), nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal action", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetQueue(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	userID := stringArg(args, "user_id")
	if userID == "" {
		return mcplib.NewToolResultError("user_id is required"), nil
	}

	actions, err := s.engine.Queue(ctx, userID, action.Status(stringArg(args, "status")))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list actions", err), nil
	}
	if actions == nil {
		actions = []action.Action{}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal actions", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetPendingCount(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	userID := stringArg(args, "user_id")
	if userID == "" {
		return mcplib.NewToolResultError("user_id is required"), nil
	}

	n, err := s.engine.PendingCount(ctx, userID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to count pending actions", err), nil
	}
	return toolResultJSON(fmt.Sprintf(`{"pending":%d}`, n)), nil
}

func (s *Server) handleRequestUndo(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	actionID := stringArg(args, "action_id")
	userID := stringArg(args, "user_id")
	if actionID == "" || userID == "" {
		return mcplib.NewToolResultError("action_id and user_id are required"), nil
	}

	result, err := s.engine.RequestUndo(ctx, actionID, userID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to undo action %s", actionID), err,
		), nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal undo result", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
