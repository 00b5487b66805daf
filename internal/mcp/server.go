package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"discovery-flow/backend/internal/agents"
	"discovery-flow/backend/internal/pipeline"
	"discovery-flow/backend/internal/services"
	"discovery-flow/backend/pkg/models"
)

type Server struct {
	mcpServer    *server.MCPServer
	flows        *services.FlowService
	coordinator  *services.TransitionCoordinator
	orchestrator *pipeline.Orchestrator
}

func NewServer(flows *services.FlowService, coordinator *services.TransitionCoordinator, orchestrator *pipeline.Orchestrator) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Discovery Flow",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		flows:        flows,
		coordinator:  coordinator,
		orchestrator: orchestrator,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_flow",
			mcp.WithDescription("Get a discovery flow and its phase progress"),
			mcp.WithString("flow_id", mcp.Required(), mcp.Description("The ID of the flow")),
		),
		s.handleGetFlow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"advance_phase",
			mcp.WithDescription("Advance a discovery flow to the given phase"),
			mcp.WithString("flow_id", mcp.Required(), mcp.Description("The ID of the flow")),
			mcp.WithString("target_phase", mcp.Required(), mcp.Description("The phase to advance to")),
		),
		s.handleAdvancePhase,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_discovery",
			mcp.WithDescription("Run the discovery agent pipeline over raw records for a flow"),
			mcp.WithString("flow_id", mcp.Required(), mcp.Description("The ID of the flow")),
			mcp.WithString("records", mcp.Required(), mcp.Description("JSON array of raw records, each a flat string map")),
		),
		s.handleRunDiscovery,
	)
}

func (s *Server) handleGetFlow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	flowID, ok := args["flow_id"].(string)
	if !ok || flowID == "" {
		return mcp.NewToolResultError("Missing required parameter: flow_id"), nil
	}

	flow, err := s.flows.GetFlow(ctx, flowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get flow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(flow)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleAdvancePhase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	flowID, ok := args["flow_id"].(string)
	if !ok || flowID == "" {
		return mcp.NewToolResultError("Missing required parameter: flow_id"), nil
	}

	target, ok := args["target_phase"].(string)
	if !ok || target == "" {
		return mcp.NewToolResultError("Missing required parameter: target_phase"), nil
	}

	result, err := s.coordinator.AdvancePhase(ctx, flowID, models.Phase(target), nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to advance: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRunDiscovery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	flowID, ok := args["flow_id"].(string)
	if !ok || flowID == "" {
		return mcp.NewToolResultError("Missing required parameter: flow_id"), nil
	}

	rawRecords, ok := args["records"].(string)
	if !ok || rawRecords == "" {
		return mcp.NewToolResultError("Missing required parameter: records"), nil
	}

	var records []agents.RawRecord
	if err := json.Unmarshal([]byte(rawRecords), &records); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid records payload: %v", err)), nil
	}

	flow, err := s.flows.GetFlow(ctx, flowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get flow: %v", err)), nil
	}

	result := s.orchestrator.Run(ctx, &agents.RawDataset{Source: "mcp", Records: records}, pipeline.Context{
		FlowID:   flow.FlowID,
		TenantID: flow.TenantID,
		ClientID: flow.ClientID,
	})

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// SSE server backs both the direct POST endpoint and the event stream
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
