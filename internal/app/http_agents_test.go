package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadignite/api/internal/a2a"
	"leadignite/api/internal/admin"
	"leadignite/api/internal/config"
	"leadignite/api/internal/discount"
	"leadignite/api/internal/team"
)

const testToken = "internal-secret"

func internalServer(t *testing.T) (*App, *HTTPServer) {
	t.Helper()
	a := New(Deps{Config: config.Config{InternalAPIToken: testToken, VectorDimensions: 3}})
	return a, NewHTTPServer(a, "*", nil)
}

func internalRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func serve(server *HTTPServer, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func newCaller(t *testing.T, a *App) *a2a.Agent {
	t.Helper()
	caller := a2a.NewAgent("crm-assistant", "CRM Assistant", "", nil)
	require.NoError(t, a.Agents.Register(caller))
	return caller
}

func TestInternalRoutesRequireToken(t *testing.T) {
	_, server := internalServer(t)

	req := internalRequest(http.MethodGet, "/api/mcp/tools", "")
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(server, req).Code)

	off := NewHTTPServer(New(Deps{Config: config.Config{VectorDimensions: 3}}), "*", nil)
	rr := serve(off, internalRequest(http.MethodGet, "/api/mcp/tools", ""))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(server, internalRequest(http.MethodPost, "/api/mcp/tools", ""))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMCPToolListing(t *testing.T) {
	_, server := internalServer(t)

	rr := serve(server, internalRequest(http.MethodGet, "/api/mcp/tools", ""))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	tools := decode(t, rr)["tools"].([]any)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	assert.Equal(t, []string{"catalog.search", "discount.validate", "kanban.user_boards", "team.credits", "vector.search"}, names)

	rr = serve(server, internalRequest(http.MethodGet, "/api/mcp/tools/discount.validate", ""))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{"code", "amount"}, decode(t, rr)["required"])

	rr = serve(server, internalRequest(http.MethodGet, "/api/mcp/tools/nope", ""))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMCPExecuteDiscountValidate(t *testing.T) {
	a, server := internalServer(t)
	_, err := a.Discounts.Create(context.Background(), discount.CreateRequest{
		Code:  "SPRING20",
		Type:  discount.TypePercentage,
		Value: decimal.NewFromInt(20),
	})
	require.NoError(t, err)

	rr := serve(server, internalRequest(http.MethodPost, "/api/mcp/execute",
		`{"operation":"discount.validate","parameters":{"code":"spring20","amount":"100"}}`))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decode(t, rr)
	assert.Equal(t, "completed", got["status"])
	result := got["result"].(map[string]any)
	assert.Equal(t, true, result["data"].(map[string]any)["Valid"])

	rr = serve(server, internalRequest(http.MethodPost, "/api/mcp/execute",
		`{"operation":"discount.validate","parameters":{"code":"spring20"}}`))
	require.Equal(t, http.StatusOK, rr.Code)
	got = decode(t, rr)
	assert.Equal(t, "failed", got["status"])
	assert.Equal(t, "Missing required parameter: amount", got["result"].(map[string]any)["error"])

	rr = serve(server, internalRequest(http.MethodPost, "/api/mcp/execute", `{"operation":"unknown"}`))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(server, internalRequest(http.MethodPost, "/api/mcp/execute", `{not json`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConfigOverridesFromHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-Config-Model-Name", "small")
	h.Set("X-Request-ID", "abc")

	assert.Equal(t, map[string]any{"model_name": "small"}, configOverrides(h))
}

func TestA2APlatformAgentRunsTools(t *testing.T) {
	a, server := internalServer(t)
	ctx := context.Background()
	tm, err := a.Teams.CreateTeam(ctx, team.CreateTeamRequest{Name: "Growth Squad", OwnerID: "usr_owner"})
	require.NoError(t, err)
	_, err = a.Teams.AddCredits(ctx, tm.ID, "usr_owner", decimal.NewFromInt(30))
	require.NoError(t, err)

	rr := serve(server, internalRequest(http.MethodGet, "/api/a2a/agents", ""))
	require.Equal(t, http.StatusOK, rr.Code)
	agents := decode(t, rr)["agents"].([]any)
	require.Len(t, agents, 1)
	card := agents[0].(map[string]any)
	assert.Equal(t, PlatformAgentID, card["agent_id"])
	assert.Len(t, card["capabilities"], 5)

	// An external caller registered on the router drives the platform agent.
	caller := newCaller(t, a)
	_, err = caller.Discover(ctx, PlatformAgentID)
	require.NoError(t, err)
	task, err := caller.ExecuteTask(ctx, PlatformAgentID, "team.credits", map[string]any{"team_id": tm.ID})
	require.NoError(t, err)
	assert.Equal(t, "completed", string(task.Status))
	data := task.Result["data"].(map[string]any)
	assert.Equal(t, "30", data["available"])

	task, err = caller.ExecuteTask(ctx, PlatformAgentID, "team.credits", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "failed", string(task.Status))
	assert.Contains(t, task.Error["error"], "Missing required parameter: team_id")

	rr = serve(server, internalRequest(http.MethodPost, "/api/a2a/messages",
		`{"message_type":"message","sender_id":"outside","recipient_id":"ghost","parts":[]}`))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(server, internalRequest(http.MethodPost, "/api/a2a/messages",
		`{"message_type":"message","sender_id":"outside","recipient_id":"leadignite","parts":[{"content_type":"text/plain","content":"hi"}]}`))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.NotEmpty(t, decode(t, rr)["conversation_id"])
}

func TestAuditTrailRecordsCreditTopUps(t *testing.T) {
	a, server := internalServer(t)
	ctx := context.Background()
	tm, err := a.Teams.CreateTeam(ctx, team.CreateTeamRequest{Name: "Audit Squad", OwnerID: "usr_owner"})
	require.NoError(t, err)
	_, err = a.Teams.AddCredits(ctx, tm.ID, "usr_admin", decimal.NewFromInt(12))
	require.NoError(t, err)

	rr := serve(server, internalRequest(http.MethodGet, "/api/admin/audit?action=credits_adjusted&actor_id=usr_admin", ""))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	entries := decode(t, rr)["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, tm.ID, entry["resource_id"])
	assert.Equal(t, "12", entry["details"].(map[string]any)["amount"])

	got, err := a.Audit.Query(ctx, admin.Filter{ResourceType: admin.ResourceCredit})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	rr = serve(server, internalRequest(http.MethodGet, "/api/admin/audit?limit=0", ""))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	rr = serve(server, internalRequest(http.MethodGet, "/api/admin/audit?since=yesterday", ""))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
