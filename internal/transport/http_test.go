package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracceaqua/tracceaqua/internal/access"
	"github.com/tracceaqua/tracceaqua/internal/blob"
	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/attachment"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
	"github.com/tracceaqua/tracceaqua/internal/domain/trace"
)

type fakeRecords struct {
	records    map[string]*record.Record
	err        error
	lastCreate record.CreateRequest
	lastMove   record.TransitionRequest
	lastList   record.ListRecordsOptions
	lastSearch record.SearchOptions
	actor      record.Actor
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: map[string]*record.Record{
		"pub": {ID: "pub", BatchCode: "B-1", SourceType: stage.SourceWildCapture, CurrentStage: stage.Fishing,
			Status: record.StatusActive, IsPublic: true, OwnerID: "fisher-1"},
		"priv": {ID: "priv", BatchCode: "B-2", SourceType: stage.SourceFarmed, CurrentStage: stage.Hatchery,
			Status: record.StatusActive, OwnerID: "fisher-1"},
	}}
}

func (f *fakeRecords) Create(_ context.Context, actor record.Actor, req record.CreateRequest) (*record.Record, error) {
	f.actor, f.lastCreate = actor, req
	if f.err != nil {
		return nil, f.err
	}
	return &record.Record{ID: "new", BatchCode: req.BatchCode, SourceType: req.SourceType,
		CurrentStage: req.InitialStage, Status: record.StatusActive, OwnerID: actor.ID}, nil
}

func (f *fakeRecords) UpdateStage(_ context.Context, actor record.Actor, req record.TransitionRequest) (*record.Record, error) {
	f.actor, f.lastMove = actor, req
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[req.RecordID]
	if !ok {
		return nil, record.ErrRecordNotFound
	}
	out := rec.Clone()
	out.CurrentStage = req.Stage
	return out, nil
}

func (f *fakeRecords) SetStatus(_ context.Context, actor record.Actor, id string, to record.Status, _ string) (*record.Record, error) {
	f.actor = actor
	if f.err != nil {
		return nil, f.err
	}
	out := f.records[id].Clone()
	out.Status = to
	return out, nil
}

func (f *fakeRecords) SetVisibility(_ context.Context, actor record.Actor, id string, isPublic bool) (*record.Record, error) {
	f.actor = actor
	out := f.records[id].Clone()
	out.IsPublic = isPublic
	return out, nil
}

func (f *fakeRecords) Get(_ context.Context, id string) (*record.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, record.ErrRecordNotFound
	}
	return rec, nil
}

func (f *fakeRecords) List(_ context.Context, opts record.ListRecordsOptions) ([]record.Summary, error) {
	f.lastList = opts
	return nil, nil
}

func (f *fakeRecords) Search(_ context.Context, query string, opts record.SearchOptions) ([]record.SearchResult, error) {
	f.lastSearch = opts
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", record.ErrInvalidInput)
	}
	return []record.SearchResult{{Record: f.records["pub"].Summary(), Rank: 1}}, nil
}

type fakeTraces struct {
	viewer *record.Actor
}

func (f *fakeTraces) View(_ context.Context, id string, viewer *record.Actor) (*trace.View, error) {
	f.viewer = viewer
	if id != "pub" {
		return nil, trace.ErrTraceNotFound
	}
	return &trace.View{Record: trace.Summary{ID: id}, Verification: trace.Verification{Status: trace.Pending}}, nil
}

type fakeAttachments struct {
	data map[string][]byte
}

func (f *fakeAttachments) Put(_ context.Context, r io.Reader, contentType string) (attachment.Attachment, error) {
	b, _ := io.ReadAll(r)
	if len(b) == 0 {
		return attachment.Attachment{}, attachment.ErrEmpty
	}
	ref := "sha256:" + strings.Repeat("a", 64)
	_, existed := f.data[ref]
	f.data[ref] = b
	return attachment.Attachment{Ref: ref, Size: int64(len(b)), ContentType: contentType, Created: !existed}, nil
}

func (f *fakeAttachments) Open(_ context.Context, ref string) (blob.Info, io.ReadCloser, error) {
	if _, err := attachment.ParseRef(ref); err != nil {
		return blob.Info{}, nil, err
	}
	b, ok := f.data[ref]
	if !ok {
		return blob.Info{}, nil, attachment.ErrNotFound
	}
	return blob.Info{Size: int64(len(b)), ContentType: "image/png"}, io.NopCloser(bytes.NewReader(b)), nil
}

type fakeActivity struct{}

func (fakeActivity) ForRecord(_ context.Context, recordID string, _ int) ([]activity.ActivityEntry, error) {
	return []activity.ActivityEntry{{RecordID: &recordID, ActivityType: activity.TypeRecordCreated}}, nil
}

type harness struct {
	server  *httptest.Server
	records *fakeRecords
	traces  *fakeTraces
}

func newHarness(t *testing.T, resolver ActorResolver) *harness {
	t.Helper()
	h := &harness{records: newFakeRecords(), traces: &fakeTraces{}}
	router := NewServer(Config{
		Services: Services{
			Records:     h.records,
			Traces:      h.traces,
			Attachments: &fakeAttachments{data: map[string][]byte{}},
			Activity:    fakeActivity{},
			Viewer:      access.NewRolePolicy(),
		},
		Resolver:   resolver,
		LocalActor: record.Actor{ID: "local-admin", Role: record.RoleAdmin},
	})
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func decodeError(t *testing.T, raw []byte) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestHealth(t *testing.T) {
	h := newHarness(t, newTestResolver())
	resp, body := h.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
}

func TestStagesCatalog(t *testing.T) {
	h := newHarness(t, newTestResolver())

	resp, body := h.do(t, http.MethodGet, "/api/stages?sourceType=farmed", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cats []stage.SourceCatalog
	require.NoError(t, json.Unmarshal(body, &cats))
	require.Len(t, cats, 1)
	require.Equal(t, stage.SourceFarmed, cats[0].SourceType)
	require.Equal(t, stage.Hatchery, cats[0].Stages[0].Stage)

	resp, body = h.do(t, http.MethodGet, "/api/stages?sourceType=trawled", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "INVALID_INPUT", decodeError(t, body).Code)
}

func TestRecordsRequireAuth(t *testing.T) {
	h := newHarness(t, newTestResolver())
	resp, _ := h.do(t, http.MethodGet, "/api/records", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateRecord(t *testing.T) {
	h := newHarness(t, newTestResolver())

	resp, body := h.do(t, http.MethodPost, "/api/records", "fisher-token", map[string]any{
		"productName":  "Cod",
		"sourceType":   "wild_capture",
		"initialStage": "fishing",
		"data":         map[string]any{"vesselId": "V-1"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "/api/records/new", resp.Header.Get("Location"))
	require.Equal(t, stage.SourceWildCapture, h.records.lastCreate.SourceType)
	require.Equal(t, stage.Fishing, h.records.lastCreate.InitialStage)
	require.JSONEq(t, `{"vesselId":"V-1"}`, string(h.records.lastCreate.Data))
	require.Equal(t, "fisher-1", h.records.actor.ID)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, "HARVEST", got["nextStage"])
}

func TestCreateRecord_BadJSON(t *testing.T) {
	h := newHarness(t, newTestResolver())
	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/api/records", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer fisher-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateStage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not applicable", record.ErrStageNotApplicable, http.StatusUnprocessableEntity, "STAGE_NOT_APPLICABLE"},
		{"terminal", record.ErrNotTransitionable, http.StatusConflict, "NOT_TRANSITIONABLE"},
		{"out of order", record.ErrStageOutOfOrder, http.StatusUnprocessableEntity, "STAGE_OUT_OF_ORDER"},
		{"unauthorized", record.ErrUnauthorized, http.StatusForbidden, "FORBIDDEN"},
		{"conflict", record.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"missing", record.ErrRecordNotFound, http.StatusNotFound, "RECORD_NOT_FOUND"},
		{"internal", fmt.Errorf("disk full"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, newTestResolver())
			h.records.err = tt.err
			resp, body := h.do(t, http.MethodPost, "/api/records/pub/stages", "fisher-token", map[string]any{"stage": "HARVEST"})
			require.Equal(t, tt.status, resp.StatusCode)
			got := decodeError(t, body)
			require.Equal(t, tt.code, got.Code)
			if tt.status == http.StatusInternalServerError {
				require.NotContains(t, got.Message, "disk full")
			}
		})
	}
}

func TestUpdateStage_ValidationFields(t *testing.T) {
	h := newHarness(t, newTestResolver())
	h.records.err = &stage.ValidationError{Stage: stage.Harvest, Fields: []stage.FieldError{{Field: "pieceCount", Message: "is required"}}}

	resp, body := h.do(t, http.MethodPost, "/api/records/pub/stages", "fisher-token", map[string]any{"stage": "harvest"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	got := decodeError(t, body)
	require.Equal(t, "VALIDATION_FAILED", got.Code)
	require.Equal(t, []stage.FieldError{{Field: "pieceCount", Message: "is required"}}, got.Fields)
	require.Equal(t, stage.Harvest, h.records.lastMove.Stage)
	require.Equal(t, "pub", h.records.lastMove.RecordID)
}

func TestGetRecord_HidesPrivateFromOthers(t *testing.T) {
	h := newHarness(t, newTestResolver())

	resp, _ := h.do(t, http.MethodGet, "/api/records/priv", "fisher-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/records/priv", "admin-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, hidden := h.do(t, http.MethodGet, "/api/records/priv", "processor-token", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_, missing := h.do(t, http.MethodGet, "/api/records/nope", "processor-token", nil)
	require.Equal(t, string(missing), string(hidden))
}

func TestHistoryAndActivity(t *testing.T) {
	h := newHarness(t, newTestResolver())

	resp, body := h.do(t, http.MethodGet, "/api/records/pub/history", "processor-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[]`, string(body))

	resp, body = h.do(t, http.MethodGet, "/api/records/pub/activity?limit=5", "processor-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "record_created")

	resp, _ = h.do(t, http.MethodGet, "/api/records/pub/activity?limit=-1", "processor-token", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListRecords_Scoping(t *testing.T) {
	h := newHarness(t, newTestResolver())

	resp, body := h.do(t, http.MethodGet, "/api/records?status=active&stage=harvest&limit=10", "processor-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[]`, string(body))
	require.True(t, h.records.lastList.PublicOnly)
	require.Equal(t, record.StatusActive, *h.records.lastList.Status)
	require.Equal(t, stage.Harvest, *h.records.lastList.Stage)
	require.Equal(t, 10, h.records.lastList.Limit)

	h.do(t, http.MethodGet, "/api/records?mine=true", "fisher-token", nil)
	require.Equal(t, "fisher-1", h.records.lastList.OwnerID)
	require.False(t, h.records.lastList.PublicOnly)

	h.do(t, http.MethodGet, "/api/records?ownerId=fisher-1", "admin-token", nil)
	require.Equal(t, "fisher-1", h.records.lastList.OwnerID)
	require.False(t, h.records.lastList.PublicOnly)

	resp, _ = h.do(t, http.MethodGet, "/api/records?status=sunk", "admin-token", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchRecords(t *testing.T) {
	h := newHarness(t, newTestResolver())

	resp, body := h.do(t, http.MethodGet, "/api/records/search?q=cod&status=ACTIVE", "processor-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"batchCode":"B-1"`)
	require.True(t, h.records.lastSearch.PublicOnly)
	require.Equal(t, []record.Status{record.StatusActive}, h.records.lastSearch.Statuses)

	resp, _ = h.do(t, http.MethodGet, "/api/records/search", "processor-token", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusAndVisibility(t *testing.T) {
	h := newHarness(t, newTestResolver())

	resp, body := h.do(t, http.MethodPost, "/api/records/pub/status", "admin-token", map[string]any{"status": "recalled", "reason": "contamination"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"status":"RECALLED"`)

	resp, _ = h.do(t, http.MethodPost, "/api/records/priv/visibility", "fisher-token", map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/api/records/priv/visibility", "fisher-token", map[string]any{"isPublic": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"isPublic":true`)
}

func TestTrace_AnonymousAndUniformNotFound(t *testing.T) {
	h := newHarness(t, newTestResolver())

	resp, body := h.do(t, http.MethodGet, "/trace/pub", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"status":"PENDING"`)
	require.Nil(t, h.traces.viewer)

	h.do(t, http.MethodGet, "/trace/pub", "admin-token", nil)
	require.NotNil(t, h.traces.viewer)
	require.Equal(t, "admin-1", h.traces.viewer.ID)

	resp, body = h.do(t, http.MethodGet, "/trace/priv", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_, missing := h.do(t, http.MethodGet, "/trace/none", "", nil)
	require.Equal(t, string(missing), string(body))
}

func TestAttachmentsUploadAndDownload(t *testing.T) {
	h := newHarness(t, newTestResolver())

	upload := func() *http.Response {
		req, err := http.NewRequest(http.MethodPost, h.server.URL+"/api/attachments", strings.NewReader("png-bytes"))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer fisher-token")
		req.Header.Set("Content-Type", "image/png")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}
	require.Equal(t, http.StatusCreated, upload().StatusCode)
	require.Equal(t, http.StatusOK, upload().StatusCode)

	ref := "sha256:" + strings.Repeat("a", 64)
	resp, body := h.do(t, http.MethodGet, "/attachments/"+ref, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "png-bytes", string(body))
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	resp, _ = h.do(t, http.MethodGet, "/attachments/sha256:"+strings.Repeat("b", 64), "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/attachments/bafy-cid", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthDisabledUsesLocalActor(t *testing.T) {
	h := newHarness(t, nil)

	resp, _ := h.do(t, http.MethodPost, "/api/records", "", map[string]any{"productName": "Shrimp", "sourceType": "FARMED", "initialStage": "HATCHERY"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, record.Actor{ID: "local-admin", Role: record.RoleAdmin}, h.records.actor)
}

func TestAuthDisabledTraceStaysAnonymous(t *testing.T) {
	h := newHarness(t, nil)

	resp, _ := h.do(t, http.MethodGet, "/trace/pub", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, h.traces.viewer)

	resp, _ = h.do(t, http.MethodGet, "/trace/priv", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
