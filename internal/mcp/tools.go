package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

type toolset struct {
	svc    Services
	logger *slog.Logger
}

func registerTools(server *sdkmcp.Server, svc Services, logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &toolset{svc: svc, logger: logger}

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_stages",
		Description: "List the ordered lifecycle stages of each source type with their required payload fields",
	}, t.listStages)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "create_record",
		Description: "Register a new seafood batch in its initial stage",
	}, t.createRecord)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "update_stage",
		Description: "Move a record to a later stage, appending a history entry",
	}, t.updateStage)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_record",
		Description: "Get a record with its full stage history",
	}, t.getRecord)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_records",
		Description: "List record summaries, newest first",
	}, t.listRecords)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "search_records",
		Description: "Full-text search over batch code, product name and species",
	}, t.searchRecords)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_trace",
		Description: "Get the consumer trace view of a record, including its verification status",
	}, t.getTrace)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "set_record_status",
		Description: "Mark an ACTIVE record COMPLETED, EXPIRED or RECALLED",
	}, t.setRecordStatus)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "set_record_visibility",
		Description: "Make a record's trace public or private",
	}, t.setRecordVisibility)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_record_activity",
		Description: "List the audit log of a record, newest first",
	}, t.getRecordActivity)
}

func (t *toolset) fail(name string, err error) (*sdkmcp.CallToolResult, any, error) {
	if apiErr := MapError(err); apiErr.Code == "INTERNAL" {
		t.logger.Error("tool failed", "tool", name, "error", err)
	}
	return toolError(err)
}

func (t *toolset) actor(ctx context.Context) (record.Actor, error) {
	actor, ok := actorFrom(ctx)
	if !ok || actor.ID == "" {
		return record.Actor{}, fmt.Errorf("%w: no authenticated actor", record.ErrUnauthorized)
	}
	return actor, nil
}

func encodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: data is not JSON encodable", record.ErrInvalidInput)
	}
	return raw, nil
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func recordResult(rec *record.Record) RecordResult {
	next, _ := record.SuggestNextStage(rec)
	return RecordResult{Record: rec, NextStage: next}
}

func (t *toolset) listStages(_ context.Context, _ *sdkmcp.CallToolRequest, in ListStagesParams) (*sdkmcp.CallToolResult, any, error) {
	if in.SourceType == "" {
		return nil, StagesResult{Catalogs: stage.Describe()}, nil
	}
	src, err := stage.ParseSourceType(in.SourceType)
	if err != nil {
		return t.fail("list_stages", err)
	}
	return nil, StagesResult{Catalogs: stage.Describe(src)}, nil
}

func (t *toolset) createRecord(ctx context.Context, _ *sdkmcp.CallToolRequest, in CreateRecordParams) (*sdkmcp.CallToolResult, any, error) {
	actor, err := t.actor(ctx)
	if err != nil {
		return t.fail("create_record", err)
	}
	data, err := encodeData(in.Data)
	if err != nil {
		return t.fail("create_record", err)
	}
	rec, err := t.svc.Records.Create(ctx, actor, record.CreateRequest{
		BatchCode:    in.BatchCode,
		ProductName:  in.ProductName,
		Species:      in.Species,
		SourceType:   stage.SourceType(normalize(in.SourceType)),
		InitialStage: stage.Stage(normalize(in.InitialStage)),
		IsPublic:     in.IsPublic,
		Location:     in.Location,
		Data:         data,
		FileHashes:   in.FileHashes,
	})
	if err != nil {
		return t.fail("create_record", err)
	}
	return nil, recordResult(rec), nil
}

func (t *toolset) updateStage(ctx context.Context, _ *sdkmcp.CallToolRequest, in UpdateStageParams) (*sdkmcp.CallToolResult, any, error) {
	actor, err := t.actor(ctx)
	if err != nil {
		return t.fail("update_stage", err)
	}
	data, err := encodeData(in.Data)
	if err != nil {
		return t.fail("update_stage", err)
	}
	rec, err := t.svc.Records.UpdateStage(ctx, actor, record.TransitionRequest{
		RecordID:   in.RecordID,
		Stage:      stage.Stage(normalize(in.Stage)),
		Data:       data,
		Location:   in.Location,
		Notes:      in.Notes,
		FileHashes: in.FileHashes,
		Override:   in.Override,
	})
	if err != nil {
		return t.fail("update_stage", err)
	}
	return nil, recordResult(rec), nil
}

// visible loads a record and hides it from actors that may not read it.
func (t *toolset) visible(ctx context.Context, id string) (*record.Record, error) {
	actor, err := t.actor(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := t.svc.Records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.svc.Viewer != nil && !t.svc.Viewer.CanView(&actor, rec) {
		return nil, record.ErrRecordNotFound
	}
	return rec, nil
}

func (t *toolset) getRecord(ctx context.Context, _ *sdkmcp.CallToolRequest, in GetRecordParams) (*sdkmcp.CallToolResult, any, error) {
	rec, err := t.visible(ctx, in.ID)
	if err != nil {
		return t.fail("get_record", err)
	}
	return nil, recordResult(rec), nil
}

func (t *toolset) listRecords(ctx context.Context, _ *sdkmcp.CallToolRequest, in ListRecordsParams) (*sdkmcp.CallToolResult, any, error) {
	actor, err := t.actor(ctx)
	if err != nil {
		return t.fail("list_records", err)
	}
	opts := record.ListRecordsOptions{Limit: in.Limit, Offset: in.Offset}
	if in.Status != "" {
		st := record.Status(normalize(in.Status))
		if !st.Valid() {
			return t.fail("list_records", fmt.Errorf("%w: unknown status %q", record.ErrInvalidInput, in.Status))
		}
		opts.Status = &st
	}
	if in.SourceType != "" {
		src, err := stage.ParseSourceType(in.SourceType)
		if err != nil {
			return t.fail("list_records", err)
		}
		opts.SourceType = &src
	}
	if in.Stage != "" {
		st, err := stage.ParseStage(in.Stage)
		if err != nil {
			return t.fail("list_records", err)
		}
		opts.Stage = &st
	}
	switch {
	case in.Mine:
		opts.OwnerID = actor.ID
	case !actor.IsAdmin():
		opts.PublicOnly = true
	}

	out, err := t.svc.Records.List(ctx, opts)
	if err != nil {
		return t.fail("list_records", err)
	}
	if out == nil {
		out = []record.Summary{}
	}
	return nil, RecordListResult{Records: out}, nil
}

func (t *toolset) searchRecords(ctx context.Context, _ *sdkmcp.CallToolRequest, in SearchRecordsParams) (*sdkmcp.CallToolResult, any, error) {
	actor, err := t.actor(ctx)
	if err != nil {
		return t.fail("search_records", err)
	}
	opts := record.SearchOptions{Limit: in.Limit, Offset: in.Offset, PublicOnly: !actor.IsAdmin()}
	for _, raw := range in.Statuses {
		st := record.Status(normalize(raw))
		if !st.Valid() {
			return t.fail("search_records", fmt.Errorf("%w: unknown status %q", record.ErrInvalidInput, raw))
		}
		opts.Statuses = append(opts.Statuses, st)
	}
	out, err := t.svc.Records.Search(ctx, in.Query, opts)
	if err != nil {
		return t.fail("search_records", err)
	}
	if out == nil {
		out = []record.SearchResult{}
	}
	return nil, SearchResult{Results: out}, nil
}

func (t *toolset) getTrace(ctx context.Context, _ *sdkmcp.CallToolRequest, in GetTraceParams) (*sdkmcp.CallToolResult, any, error) {
	var viewer *record.Actor
	if actor, ok := actorFrom(ctx); ok {
		viewer = &actor
	}
	view, err := t.svc.Traces.View(ctx, in.ID, viewer)
	if err != nil {
		return t.fail("get_trace", err)
	}
	return nil, view, nil
}

func (t *toolset) setRecordStatus(ctx context.Context, _ *sdkmcp.CallToolRequest, in SetRecordStatusParams) (*sdkmcp.CallToolResult, any, error) {
	actor, err := t.actor(ctx)
	if err != nil {
		return t.fail("set_record_status", err)
	}
	rec, err := t.svc.Records.SetStatus(ctx, actor, in.ID, record.Status(normalize(in.Status)), in.Reason)
	if err != nil {
		return t.fail("set_record_status", err)
	}
	return nil, recordResult(rec), nil
}

func (t *toolset) setRecordVisibility(ctx context.Context, _ *sdkmcp.CallToolRequest, in SetRecordVisibilityParams) (*sdkmcp.CallToolResult, any, error) {
	actor, err := t.actor(ctx)
	if err != nil {
		return t.fail("set_record_visibility", err)
	}
	rec, err := t.svc.Records.SetVisibility(ctx, actor, in.ID, in.IsPublic)
	if err != nil {
		return t.fail("set_record_visibility", err)
	}
	return nil, recordResult(rec), nil
}

func (t *toolset) getRecordActivity(ctx context.Context, _ *sdkmcp.CallToolRequest, in GetRecordActivityParams) (*sdkmcp.CallToolResult, any, error) {
	rec, err := t.visible(ctx, in.ID)
	if err != nil {
		return t.fail("get_record_activity", err)
	}
	entries, err := t.svc.Activity.ForRecord(ctx, rec.ID, in.Limit)
	if err != nil {
		return t.fail("get_record_activity", err)
	}
	if entries == nil {
		entries = []activity.ActivityEntry{}
	}
	return nil, ActivityResult{Entries: entries}, nil
}
