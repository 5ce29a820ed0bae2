package app

import (
	"context"
	"fmt"

	"leadignite/api/internal/a2a"
	"leadignite/api/internal/discount"
	"leadignite/api/internal/mcp"
	"leadignite/api/internal/vector"
)

// PlatformAgentID is the agent that fronts the built-in tools on the
// agent router.
const PlatformAgentID = "leadignite"

func stringSchema(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// registerTools exposes read-only service operations as tools.
func (a *App) registerTools(reg *mcp.Registry) {
	reg.MustRegister(mcp.Tool{
		Name:        "discount.validate",
		Description: "Check whether a discount code applies to an order amount",
		Parameters: map[string]any{
			"code":       stringSchema("Discount code"),
			"amount":     stringSchema("Order amount as a decimal string"),
			"user_id":    stringSchema("Customer id, for per-user limits"),
			"product_id": stringSchema("Product in the order"),
		},
		Required: []string{"code", "amount"},
		Handler: func(ctx context.Context, params, _ map[string]any) (any, error) {
			return a.Discounts.Validate(ctx, discount.ValidateRequest{
				Code:      mcp.String(params, "code"),
				Amount:    mcp.String(params, "amount"),
				UserID:    mcp.String(params, "user_id"),
				ProductID: mcp.String(params, "product_id"),
			})
		},
	})

	reg.MustRegister(mcp.Tool{
		Name:        "catalog.search",
		Description: "Full-text search over published products",
		Parameters: map[string]any{
			"query": stringSchema("Search text"),
			"limit": map[string]any{"type": "integer", "default": 20},
		},
		Required: []string{"query"},
		Handler: func(ctx context.Context, params, _ map[string]any) (any, error) {
			limit, err := mcp.Int(params, "limit", 20)
			if err != nil {
				return nil, err
			}
			return a.Catalog.Search(ctx, mcp.String(params, "query"), limit)
		},
	})

	reg.MustRegister(mcp.Tool{
		Name:        "vector.search",
		Description: "Nearest-neighbour search in an embedding collection",
		Parameters: map[string]any{
			"collection_id": stringSchema("Collection to search"),
			"vector":        map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
			"limit":         map[string]any{"type": "integer", "default": 10},
		},
		Required: []string{"collection_id", "vector"},
		Handler: func(ctx context.Context, params, _ map[string]any) (any, error) {
			vec, err := mcp.Floats(params, "vector")
			if err != nil {
				return nil, err
			}
			limit, err := mcp.Int(params, "limit", 10)
			if err != nil {
				return nil, err
			}
			return a.Vectors.Search(ctx, mcp.String(params, "collection_id"), vector.SearchRequest{Vector: vec, Limit: limit})
		},
	})

	reg.MustRegister(mcp.Tool{
		Name:        "kanban.user_boards",
		Description: "Boards a user belongs to",
		Parameters:  map[string]any{"user_id": stringSchema("User id")},
		Required:    []string{"user_id"},
		Handler: func(ctx context.Context, params, _ map[string]any) (any, error) {
			return a.Boards.UserBoards(ctx, mcp.String(params, "user_id"))
		},
	})

	reg.MustRegister(mcp.Tool{
		Name:        "team.credits",
		Description: "Credit pool balance of a team",
		Parameters:  map[string]any{"team_id": stringSchema("Team id")},
		Required:    []string{"team_id"},
		Handler: func(ctx context.Context, params, _ map[string]any) (any, error) {
			t, err := a.Teams.Get(ctx, mcp.String(params, "team_id"))
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"total":     t.Credits.Total.String(),
				"used":      t.Credits.Used.String(),
				"available": t.Credits.Available().String(),
			}, nil
		},
	})
}

// platformAgent offers every registered tool as an agent capability.
func (a *App) platformAgent() *a2a.Agent {
	agent := a2a.NewAgent(PlatformAgentID, "Lead Ignite", "Platform tools for discounts, catalog, vectors, boards and teams", a.logger.Named("a2a"))
	for _, tool := range a.Tools.Registry().List() {
		name := tool.Name
		agent.RegisterCapability(a2a.Capability{
			Name:        name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		}, func(ctx context.Context, task a2a.Task) (map[string]any, error) {
			resp, err := a.Tools.Execute(ctx, mcp.Request{Operation: name, Parameters: task.Parameters})
			if err != nil {
				return nil, err
			}
			if !resp.Result.Success {
				return nil, fmt.Errorf("%s: %s", name, resp.Result.Error)
			}
			return map[string]any{"data": resp.Result.Data}, nil
		})
	}
	return agent
}
