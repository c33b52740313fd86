package nlprp

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cratenlp/pkg/nlpcore"

	_ "modernc.org/sqlite"

	"github.com/sirupsen/logrus"
)

type fakeExtractor struct {
	descriptor nlpcore.ProcessorDescriptor
}

func (f *fakeExtractor) Describe(ctx context.Context) ([]nlpcore.ProcessorDescriptor, error) {
	return []nlpcore.ProcessorDescriptor{f.descriptor}, nil
}

func (f *fakeExtractor) ProcessBatch(ctx context.Context, records []nlpcore.SourceRecord) ([]nlpcore.PerRecordResult, error) {
	out := make([]nlpcore.PerRecordResult, len(records))
	for i, rec := range records {
		row := nlpcore.NewExtractionRow("crp_results")
		row.SetColumn("variable_name", "CRP")
		row.SetColumn("_content", rec.Text)
		out[i] = nlpcore.PerRecordResult{
			RecordID: "ignored",
			ProcessorResults: []nlpcore.ProcessorResult{
				{Name: f.descriptor.Name, Success: true, Rows: []*nlpcore.ExtractionRow{row}},
			},
		}
	}
	return out, nil
}

func (f *fakeExtractor) Close() error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *QueueStore) {
	t.Helper()

	registry := nlpcore.NewExtractorRegistry()
	registry.Register("crp", &fakeExtractor{descriptor: nlpcore.ProcessorDescriptor{
		Name: "crp", Title: "CRP", Version: "1.0", SchemaType: "tabular",
		Schema: &nlpcore.TabularSchema{Tables: map[string][]nlpcore.ColumnDef{
			"crp_results": {{Name: "variable_name", SQLType: "VARCHAR(64)"}},
		}},
	}})

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	queue := OpenQueueStore(db, "sqlite")
	if err := queue.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	sessions := NewSessionStore(AuthConfig{Mode: "none"}, logrus.New())
	srv := NewServer(registry, sessions, queue, logrus.New())
	return httptest.NewServer(srv), queue
}

func postNLPRP(t *testing.T, url string, req Request) Response {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	httpResp, err := http.Post(url+"/nlprp", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestListProcessorsReportsTabularSchema(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := postNLPRP(t, srv.URL, Request{Protocol: newProtocol(), Command: "list_processors"})
	if len(resp.Processors) != 1 {
		t.Fatalf("expected 1 processor, got %d", len(resp.Processors))
	}
	if resp.Processors[0].SchemaType != "tabular" {
		t.Fatalf("expected tabular schema type, got %s", resp.Processors[0].SchemaType)
	}
}

func TestProcessImmediateReturnsResults(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := postNLPRP(t, srv.URL, Request{
		Protocol:           newProtocol(),
		Command:            "process",
		ProcessorSelectors: []ProcessorSelector{{Name: "crp"}},
		Content:             []ContentItem{{Text: "CRP 45 mg/L", Metadata: map[string]any{"id": "1"}}},
	})
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 content result, got %d", len(resp.Results))
	}
	if len(resp.Results[0].Processors) != 1 || !resp.Results[0].Processors[0].Success {
		t.Fatalf("expected one successful processor result, got %+v", resp.Results[0])
	}
}

func TestProcessQueuedReturns202AndQueueID(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := postNLPRP(t, srv.URL, Request{
		Protocol:           newProtocol(),
		Command:            "process",
		ProcessorSelectors: []ProcessorSelector{{Name: "crp"}},
		Content:             []ContentItem{{Text: "CRP 45 mg/L"}},
		Queue:               true,
	})
	if resp.Status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Status)
	}
	if resp.QueueID == "" {
		t.Fatal("expected a queue_id")
	}
}

func TestFetchFromQueueReturns404ForUnknownID(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := postNLPRP(t, srv.URL, Request{Protocol: newProtocol(), Command: "fetch_from_queue", QueueID: "nope"})
	if resp.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Status)
	}
}

func TestQueueRoundTripCompletesAndIsFetchable(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	submitted := postNLPRP(t, srv.URL, Request{
		Protocol:           newProtocol(),
		Command:            "process",
		ProcessorSelectors: []ProcessorSelector{{Name: "crp"}},
		Content:             []ContentItem{{Text: "CRP 45 mg/L"}},
		Queue:               true,
	})
	if submitted.QueueID == "" {
		t.Fatal("expected a queue_id")
	}

	deadline := time.Now().Add(2 * time.Second)
	var fetched Response
	for time.Now().Before(deadline) {
		fetched = postNLPRP(t, srv.URL, Request{Protocol: newProtocol(), Command: "fetch_from_queue", QueueID: submitted.QueueID})
		if fetched.Status == http.StatusOK {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if fetched.Status != http.StatusOK {
		t.Fatalf("expected queued job to complete, got status %d", fetched.Status)
	}
	if len(fetched.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(fetched.Results))
	}

	again := postNLPRP(t, srv.URL, Request{Protocol: newProtocol(), Command: "fetch_from_queue", QueueID: submitted.QueueID})
	if again.Status != http.StatusNotFound {
		t.Fatalf("expected the entry to be deleted after collection, got status %d", again.Status)
	}
}

func TestUnknownCommandReturns400(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := postNLPRP(t, srv.URL, Request{Protocol: newProtocol(), Command: "not_a_command"})
	if resp.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Status)
	}
}
