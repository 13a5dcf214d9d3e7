package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/tracceaqua/tracceaqua/internal/access"
	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
	"github.com/tracceaqua/tracceaqua/internal/domain/trace"
)

type recordStub struct {
	createFn     func(context.Context, record.Actor, record.CreateRequest) (*record.Record, error)
	updateFn     func(context.Context, record.Actor, record.TransitionRequest) (*record.Record, error)
	statusFn     func(context.Context, record.Actor, string, record.Status, string) (*record.Record, error)
	visibilityFn func(context.Context, record.Actor, string, bool) (*record.Record, error)
	getFn        func(context.Context, string) (*record.Record, error)
	listFn       func(context.Context, record.ListRecordsOptions) ([]record.Summary, error)
	searchFn     func(context.Context, string, record.SearchOptions) ([]record.SearchResult, error)
}

func (r recordStub) Create(ctx context.Context, actor record.Actor, req record.CreateRequest) (*record.Record, error) {
	return r.createFn(ctx, actor, req)
}
func (r recordStub) UpdateStage(ctx context.Context, actor record.Actor, req record.TransitionRequest) (*record.Record, error) {
	return r.updateFn(ctx, actor, req)
}
func (r recordStub) SetStatus(ctx context.Context, actor record.Actor, id string, to record.Status, reason string) (*record.Record, error) {
	return r.statusFn(ctx, actor, id, to, reason)
}
func (r recordStub) SetVisibility(ctx context.Context, actor record.Actor, id string, isPublic bool) (*record.Record, error) {
	return r.visibilityFn(ctx, actor, id, isPublic)
}
func (r recordStub) Get(ctx context.Context, id string) (*record.Record, error) {
	return r.getFn(ctx, id)
}
func (r recordStub) List(ctx context.Context, opts record.ListRecordsOptions) ([]record.Summary, error) {
	return r.listFn(ctx, opts)
}
func (r recordStub) Search(ctx context.Context, query string, opts record.SearchOptions) ([]record.SearchResult, error) {
	return r.searchFn(ctx, query, opts)
}

type traceStub struct {
	viewFn func(context.Context, string, *record.Actor) (*trace.View, error)
}

func (t traceStub) View(ctx context.Context, id string, viewer *record.Actor) (*trace.View, error) {
	return t.viewFn(ctx, id, viewer)
}

type activityStub struct {
	forRecordFn func(context.Context, string, int) ([]activity.ActivityEntry, error)
}

func (a activityStub) ForRecord(ctx context.Context, recordID string, limit int) ([]activity.ActivityEntry, error) {
	return a.forRecordFn(ctx, recordID, limit)
}

var fisher = record.Actor{ID: "fisher-1", Role: record.RoleFisher}

func connect(t *testing.T, svc Services, actor record.Actor) *sdkmcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	server := NewServer(Config{Services: svc, LocalActor: actor, TransportMode: "stdio"})
	serverTransport, clientTransport := sdkmcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *sdkmcp.ClientSession, name string, args map[string]any) (*sdkmcp.CallToolResult, map[string]any) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return res, out
}

func wildRecord() *record.Record {
	return &record.Record{ID: "r1", BatchCode: "B-1", SourceType: stage.SourceWildCapture,
		CurrentStage: stage.Fishing, Status: record.StatusActive, OwnerID: "fisher-1"}
}

func TestListTools(t *testing.T) {
	cs := connect(t, Services{}, fisher)
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	require.ElementsMatch(t, []string{
		"list_stages", "create_record", "update_stage", "get_record", "list_records",
		"search_records", "get_trace", "set_record_status", "set_record_visibility", "get_record_activity",
	}, names)
}

func TestListStages(t *testing.T) {
	cs := connect(t, Services{}, fisher)

	res, out := callTool(t, cs, "list_stages", map[string]any{"source_type": "farmed"})
	require.False(t, res.IsError)
	catalogs := out["catalogs"].([]any)
	require.Len(t, catalogs, 1)
	require.Equal(t, "FARMED", catalogs[0].(map[string]any)["sourceType"])

	res, out = callTool(t, cs, "list_stages", map[string]any{"source_type": "trawled"})
	require.True(t, res.IsError)
	require.Equal(t, "INVALID_INPUT", out["code"])
}

func TestCreateRecord(t *testing.T) {
	var got record.CreateRequest
	var gotActor record.Actor
	svc := Services{Records: recordStub{createFn: func(_ context.Context, actor record.Actor, req record.CreateRequest) (*record.Record, error) {
		got, gotActor = req, actor
		return wildRecord(), nil
	}}}
	cs := connect(t, svc, fisher)

	res, out := callTool(t, cs, "create_record", map[string]any{
		"product_name":  "Cod",
		"source_type":   "wild_capture",
		"initial_stage": "fishing",
		"data":          map[string]any{"vesselId": "V-1"},
	})
	require.False(t, res.IsError)
	require.Equal(t, fisher, gotActor)
	require.Equal(t, stage.SourceWildCapture, got.SourceType)
	require.Equal(t, stage.Fishing, got.InitialStage)
	require.JSONEq(t, `{"vesselId":"V-1"}`, string(got.Data))
	require.Equal(t, "HARVEST", out["next_stage"])
}

func TestUpdateStage_ValidationError(t *testing.T) {
	svc := Services{Records: recordStub{updateFn: func(_ context.Context, _ record.Actor, req record.TransitionRequest) (*record.Record, error) {
		require.Equal(t, stage.Harvest, req.Stage)
		return nil, &stage.ValidationError{Stage: stage.Harvest, Fields: []stage.FieldError{{Field: "pieceCount", Message: "is required"}}}
	}}}
	cs := connect(t, svc, fisher)

	res, out := callTool(t, cs, "update_stage", map[string]any{"record_id": "r1", "stage": "harvest"})
	require.True(t, res.IsError)
	require.Equal(t, "VALIDATION_FAILED", out["code"])
	details := out["details"].([]any)
	require.Equal(t, "pieceCount", details[0].(map[string]any)["field"])
}

func TestUpdateStage_MissingArguments(t *testing.T) {
	cs := connect(t, Services{}, fisher)
	_, err := cs.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: "update_stage", Arguments: map[string]any{"stage": "HARVEST"}})
	require.Error(t, err)
}

func TestGetRecord_HidesPrivate(t *testing.T) {
	priv := wildRecord()
	priv.OwnerID = "someone-else"
	svc := Services{
		Records: recordStub{getFn: func(context.Context, string) (*record.Record, error) { return priv, nil }},
		Viewer:  access.NewRolePolicy(),
	}

	res, out := callTool(t, connect(t, svc, fisher), "get_record", map[string]any{"id": "r1"})
	require.True(t, res.IsError)
	require.Equal(t, "RECORD_NOT_FOUND", out["code"])

	admin := record.Actor{ID: "admin-1", Role: record.RoleAdmin}
	res, out = callTool(t, connect(t, svc, admin), "get_record", map[string]any{"id": "r1"})
	require.False(t, res.IsError)
	require.Equal(t, "B-1", out["record"].(map[string]any)["batchCode"])
}

func TestListRecords_ScopesNonAdmins(t *testing.T) {
	var got record.ListRecordsOptions
	svc := Services{Records: recordStub{listFn: func(_ context.Context, opts record.ListRecordsOptions) ([]record.Summary, error) {
		got = opts
		return nil, nil
	}}}
	cs := connect(t, svc, fisher)

	res, out := callTool(t, cs, "list_records", map[string]any{"status": "active", "stage": "harvest"})
	require.False(t, res.IsError)
	require.Empty(t, out["records"])
	require.True(t, got.PublicOnly)
	require.Equal(t, record.StatusActive, *got.Status)

	callTool(t, cs, "list_records", map[string]any{"mine": true})
	require.Equal(t, "fisher-1", got.OwnerID)
	require.False(t, got.PublicOnly)

	res, out = callTool(t, cs, "list_records", map[string]any{"status": "sunk"})
	require.True(t, res.IsError)
	require.Equal(t, "INVALID_INPUT", out["code"])
}

func TestSearchRecords(t *testing.T) {
	svc := Services{Records: recordStub{searchFn: func(_ context.Context, q string, opts record.SearchOptions) ([]record.SearchResult, error) {
		require.Equal(t, "cod", q)
		require.True(t, opts.PublicOnly)
		return []record.SearchResult{{Record: wildRecord().Summary(), Rank: 2.5}}, nil
	}}}

	res, out := callTool(t, connect(t, svc, fisher), "search_records", map[string]any{"query": "cod"})
	require.False(t, res.IsError)
	require.Len(t, out["results"], 1)
}

func TestGetTrace_UniformNotFound(t *testing.T) {
	svc := Services{Traces: traceStub{viewFn: func(_ context.Context, id string, viewer *record.Actor) (*trace.View, error) {
		require.NotNil(t, viewer)
		if id == "r1" {
			return &trace.View{Record: trace.Summary{ID: id}, Verification: trace.Verification{Status: trace.Verified}}, nil
		}
		return nil, trace.ErrTraceNotFound
	}}}
	cs := connect(t, svc, fisher)

	res, out := callTool(t, cs, "get_trace", map[string]any{"id": "r1"})
	require.False(t, res.IsError)
	require.Equal(t, "VERIFIED", out["verification"].(map[string]any)["status"])

	res, out = callTool(t, cs, "get_trace", map[string]any{"id": "private"})
	require.True(t, res.IsError)
	require.Equal(t, map[string]any{"code": "NOT_FOUND", "message": "trace not found"}, out)
}

func TestSetRecordStatus_Terminal(t *testing.T) {
	svc := Services{Records: recordStub{statusFn: func(_ context.Context, _ record.Actor, _ string, to record.Status, reason string) (*record.Record, error) {
		require.Equal(t, record.StatusRecalled, to)
		require.Equal(t, "histamine", reason)
		return nil, record.ErrNotTransitionable
	}}}

	res, out := callTool(t, connect(t, svc, fisher), "set_record_status", map[string]any{"id": "r1", "status": "recalled", "reason": "histamine"})
	require.True(t, res.IsError)
	require.Equal(t, "NOT_TRANSITIONABLE", out["code"])
}

func TestGetRecordActivity(t *testing.T) {
	svc := Services{
		Records: recordStub{getFn: func(context.Context, string) (*record.Record, error) { return wildRecord(), nil }},
		Activity: activityStub{forRecordFn: func(_ context.Context, id string, limit int) ([]activity.ActivityEntry, error) {
			require.Equal(t, "r1", id)
			require.Equal(t, 5, limit)
			return []activity.ActivityEntry{{ActivityType: activity.TypeStageTransition, Summary: "moved"}}, nil
		}},
		Viewer: access.NewRolePolicy(),
	}

	res, out := callTool(t, connect(t, svc, fisher), "get_record_activity", map[string]any{"id": "r1", "limit": 5})
	require.False(t, res.IsError)
	require.Len(t, out["entries"], 1)
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	svc := Services{Records: recordStub{getFn: func(context.Context, string) (*record.Record, error) {
		return nil, errors.New("database is locked")
	}}}

	res, out := callTool(t, connect(t, svc, fisher), "get_record", map[string]any{"id": "r1"})
	require.True(t, res.IsError)
	require.Equal(t, "INTERNAL", out["code"])
	require.NotContains(t, out["message"], "locked")
}

func TestDocResources(t *testing.T) {
	cs := connect(t, Services{}, fisher)
	res, err := cs.ReadResource(context.Background(), &sdkmcp.ReadResourceParams{URI: "tracceaqua://docs/stages"})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	require.Contains(t, res.Contents[0].Text, "## WILD_CAPTURE")
	require.Contains(t, res.Contents[0].Text, "FISHING (origin): vesselId")
	require.Contains(t, res.Contents[0].Text, "RETAIL: free-form data")
}

type tokenResolver map[string]record.Actor

func (r tokenResolver) ResolveActor(_ context.Context, token string) (record.Actor, error) {
	actor, ok := r[token]
	if !ok {
		return record.Actor{}, access.ErrInvalidKey
	}
	return actor, nil
}

func TestAuthMiddleware(t *testing.T) {
	mw := authMiddleware(tokenResolver{"good": fisher})
	var seen record.Actor
	next := func(ctx context.Context, _ string, _ sdkmcp.Request) (sdkmcp.Result, error) {
		seen, _ = actorFrom(ctx)
		return &sdkmcp.CallToolResult{}, nil
	}
	handler := mw(next)

	request := func(token string) *sdkmcp.CallToolRequest {
		h := http.Header{}
		if token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
		return &sdkmcp.CallToolRequest{Params: &sdkmcp.CallToolParamsRaw{Name: "get_record"}, Extra: &sdkmcp.RequestExtra{Header: h}}
	}

	_, err := handler(context.Background(), "tools/call", request("good"))
	require.NoError(t, err)
	require.Equal(t, fisher, seen)

	_, err = handler(context.Background(), "tools/call", request("bad"))
	require.ErrorIs(t, err, access.ErrInvalidKey)

	_, err = handler(context.Background(), "tools/call", request(""))
	require.ErrorContains(t, err, "missing bearer token")

	seen = record.Actor{}
	_, err = handler(context.Background(), "initialize", &sdkmcp.InitializeRequest{})
	require.NoError(t, err)
	require.Empty(t, seen.ID)
}

func TestTrafficLogging_TagsToolCalls(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := trafficLoggingMiddleware(logger, "inbound")(func(context.Context, string, sdkmcp.Request) (sdkmcp.Result, error) {
		return &sdkmcp.CallToolResult{IsError: true}, nil
	})

	req := &sdkmcp.CallToolRequest{Params: &sdkmcp.CallToolParamsRaw{
		Name:      "update_stage",
		Arguments: json.RawMessage(`{"record_id":"r1","stage":"HARVEST"}`),
	}}
	_, err := handler(withActor(context.Background(), fisher), "tools/call", req)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		require.Equal(t, "update_stage", entry["tool"])
		require.Equal(t, "r1", entry["record_id"])
		require.Equal(t, "fisher-1", entry["actor_id"])
		require.Equal(t, "FISHER", entry["role"])
	}
	var response map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &response))
	require.Equal(t, "mcp response", response["msg"])
	require.Equal(t, true, response["tool_error"])
}

func TestTrafficLogging_SkippedAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	called := false
	handler := trafficLoggingMiddleware(logger, "inbound")(func(context.Context, string, sdkmcp.Request) (sdkmcp.Result, error) {
		called = true
		return &sdkmcp.CallToolResult{}, nil
	})

	_, err := handler(context.Background(), "tools/call", &sdkmcp.CallToolRequest{Params: &sdkmcp.CallToolParamsRaw{Name: "get_record"}})
	require.NoError(t, err)
	require.True(t, called)
	require.Empty(t, buf.String())
}
