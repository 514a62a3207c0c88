package render

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domdiff/diff"
	"github.com/hazyhaar/domdiff/kit"
	"github.com/hazyhaar/domdiff/patch"
)

// RegisterMCP registers the diff and signing tools on an MCP server.
func (r *Renderer) RegisterMCP(srv *mcp.Server) {
	r.registerDiffTool(srv)
	r.registerSignTool(srv)
	r.registerVerifyTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (r *Renderer) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(r.logger, name))(ep)
}

// --- diff ---

type diffRequest struct {
	Old      string `json:"old"`
	New      string `json:"new"`
	Optimize *bool  `json:"optimize,omitempty"`
}

type diffResponse struct {
	Patches patch.List `json:"patches"`
	Count   int        `json:"count"`
}

func (r *Renderer) registerDiffTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domdiff_diff",
		Description: "Diff two markup fragments. Returns the patch sequence turning the first into the second.",
		InputSchema: inputSchema(map[string]any{
			"old":      map[string]any{"type": "string", "description": "Previous markup; empty for a first render"},
			"new":      map[string]any{"type": "string", "description": "Current markup"},
			"optimize": map[string]any{"type": "boolean", "description": "Post-process the patches (default true)"},
		}, []string{"new"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		dr := req.(*diffRequest)
		newTree, err := r.parser.Parse(dr.New)
		if err != nil {
			return nil, err
		}
		var ps []patch.Patch
		if dr.Old == "" {
			ps = diff.Diff(nil, newTree)
		} else {
			oldTree, err := r.parser.Parse(dr.Old)
			if err != nil {
				return nil, err
			}
			ps = diff.Diff(oldTree, newTree)
		}
		if dr.Optimize == nil || *dr.Optimize {
			ps = diff.Optimize(ps)
		}
		return diffResponse{Patches: patch.List(ps), Count: len(ps)}, nil
	}

	kit.RegisterMCPTool(srv, tool, r.endpoint(tool.Name, endpoint), kit.DecodeJSON[diffRequest]())
}

// --- sign ---

type signRequest struct {
	ComponentID string         `json:"componentId"`
	State       map[string]any `json:"state"`
	Signature   string         `json:"signature,omitempty"`
}

func decodeSign(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	res, err := kit.DecodeJSON[signRequest]()(req)
	if err != nil {
		return nil, err
	}
	sr := res.Request.(*signRequest)
	if sr.ComponentID == "" {
		return nil, errors.New("componentId is required")
	}
	res.EnrichCtx = func(ctx context.Context) context.Context {
		return kit.WithComponentID(ctx, sr.ComponentID)
	}
	return res, nil
}

func (r *Renderer) registerSignTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domdiff_sign",
		Description: "Sign component state for a component id.",
		InputSchema: inputSchema(map[string]any{
			"componentId": map[string]any{"type": "string", "description": "Component instance id"},
			"state":       map[string]any{"type": "object", "description": "Component state"},
		}, []string{"componentId"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		sr := req.(*signRequest)
		sig, err := r.signer.Sign(sr.State, sr.ComponentID)
		if err != nil {
			return nil, err
		}
		return map[string]string{"signature": sig, "algorithm": string(r.signer.Algorithm())}, nil
	}

	kit.RegisterMCPTool(srv, tool, r.endpoint(tool.Name, endpoint), decodeSign)
}

// --- verify ---

func (r *Renderer) registerVerifyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domdiff_verify",
		Description: "Check a state signature for a component id.",
		InputSchema: inputSchema(map[string]any{
			"componentId": map[string]any{"type": "string", "description": "Component instance id"},
			"state":       map[string]any{"type": "object", "description": "Component state"},
			"signature":   map[string]any{"type": "string", "description": "Presented signature"},
		}, []string{"componentId", "signature"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		sr := req.(*signRequest)
		valid := r.signer.Verify(sr.State, sr.ComponentID, sr.Signature)
		if !valid {
			r.logger.WarnContext(ctx, "render: signature rejected", "component_id", sr.ComponentID, "transport", kit.GetTransport(ctx))
		}
		return map[string]bool{"valid": valid}, nil
	}

	kit.RegisterMCPTool(srv, tool, r.endpoint(tool.Name, endpoint), decodeSign)
}
