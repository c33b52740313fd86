package nlprp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cratenlp/internal/metrics"
	"cratenlp/pkg/nlpcore"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server is the NLPRP HTTP server: one gorilla/mux router dispatching
// the five commands from spec.md §4.5 against a live ExtractorRegistry,
// guarded by a SessionStore and backed by a QueueStore for `queue=true`
// submissions. Grounded on the teacher's internal/app HTTP mux wiring,
// generalized from a metrics/health admin surface to the NLPRP command
// envelope.
type Server struct {
	registry *nlpcore.ExtractorRegistry
	sessions *SessionStore
	queue    *QueueStore
	logger   *logrus.Logger
	router   *mux.Router
}

func NewServer(registry *nlpcore.ExtractorRegistry, sessions *SessionStore, queue *QueueStore, logger *logrus.Logger) *Server {
	s := &Server{registry: registry, sessions: sessions, queue: queue, logger: logger}
	s.router = mux.NewRouter()
	s.router.Handle("/nlprp", s.sessions.Middleware(http.HandlerFunc(s.handle))).Methods(http.MethodPost)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := readRequestBody(r)
	if err != nil {
		writeResponse(w, r, errorResponse(http.StatusBadRequest, "BAD_BODY", err.Error()))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, r, errorResponse(http.StatusBadRequest, "BAD_JSON", err.Error()))
		return
	}

	principal := principalFromContext(r.Context())

	var resp Response
	switch req.Command {
	case "list_processors":
		resp = s.handleListProcessors(r.Context())
	case "process":
		resp = s.handleProcess(r.Context(), principal, req)
	case "show_queue":
		resp = s.handleShowQueue(r.Context(), principal, req)
	case "fetch_from_queue":
		resp = s.handleFetchFromQueue(r.Context(), principal, req)
	case "delete_from_queue":
		resp = s.handleDeleteFromQueue(r.Context(), principal, req)
	default:
		resp = errorResponse(http.StatusBadRequest, "UNKNOWN_COMMAND", "unrecognized command "+req.Command)
	}

	writeResponse(w, r, resp)
}

func (s *Server) handleListProcessors(ctx context.Context) Response {
	var descriptors []ProcessorDescriptorWire
	for _, name := range s.registry.Names() {
		extractor, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		descs, err := extractor.Describe(ctx)
		if err != nil {
			s.logger.WithError(err).WithField("extractor", name).Warn("describe failed")
			continue
		}
		for _, d := range descs {
			descriptors = append(descriptors, descriptorToWire(d))
		}
	}
	return Response{
		Status:     http.StatusOK,
		Protocol:   newProtocol(),
		ServerInfo: newServerInfo(),
		Processors: descriptors,
	}
}

func (s *Server) handleProcess(ctx context.Context, principal *User, req Request) Response {
	for _, sel := range req.ProcessorSelectors {
		if !principal.Allows(sel.Name) {
			return errorResponse(http.StatusForbidden, "PROCESSOR_FORBIDDEN", "processor "+sel.Name+" not permitted for this user")
		}
	}

	if req.Queue {
		queueID, err := s.queue.Submit(ctx, principal.Username, req.ClientJobID, req.Content, req.ProcessorSelectors)
		if err != nil {
			return errorResponse(http.StatusInternalServerError, "QUEUE_SUBMIT_FAILED", err.Error())
		}
		metrics.NLPRPQueueDepth.WithLabelValues(string(QueueStatusBusy)).Inc()
		go s.runQueuedJob(context.Background(), queueID, req.ProcessorSelectors, req.Content)
		return Response{
			Status:     http.StatusAccepted,
			Protocol:   newProtocol(),
			ServerInfo: newServerInfo(),
			QueueID:    queueID,
		}
	}

	results := s.runContent(ctx, req.ProcessorSelectors, req.Content)
	return Response{
		Status:     http.StatusOK,
		Protocol:   newProtocol(),
		ServerInfo: newServerInfo(),
		Results:    results,
	}
}

func (s *Server) runQueuedJob(ctx context.Context, queueID string, selectors []ProcessorSelector, content []ContentItem) {
	results := s.runContent(ctx, selectors, content)
	if err := s.queue.Complete(ctx, queueID, results); err != nil {
		s.logger.WithError(err).WithField("queue_id", queueID).Error("failed to record queued job results")
		return
	}
	metrics.NLPRPQueueDepth.WithLabelValues(string(QueueStatusBusy)).Dec()
	metrics.NLPRPQueueDepth.WithLabelValues(string(QueueStatusReady)).Inc()
}

// runContent runs every selected processor over every content item.
// Partial failures are recorded per processor per item, per spec.md
// §4.5's "partial failures are recorded per processor per record, not
// per request".
func (s *Server) runContent(ctx context.Context, selectors []ProcessorSelector, content []ContentItem) []ContentResult {
	records := make([]nlpcore.SourceRecord, len(content))
	for i, c := range content {
		records[i] = nlpcore.SourceRecord{PKValue: int64(i), Text: c.Text}
	}

	perProcessor := make(map[string][]nlpcore.PerRecordResult, len(selectors))
	for _, sel := range selectors {
		extractor, ok := s.registry.Get(sel.Name)
		if !ok {
			continue
		}
		results, err := extractor.ProcessBatch(ctx, records)
		if err != nil {
			s.logger.WithError(err).WithField("processor", sel.Name).Warn("process_batch failed")
			continue
		}
		perProcessor[sel.Name] = results
	}

	out := make([]ContentResult, len(content))
	for i, c := range content {
		cr := ContentResult{Metadata: c.Metadata}
		for _, sel := range selectors {
			perRecordResults, ok := perProcessor[sel.Name]
			if !ok || i >= len(perRecordResults) {
				continue
			}
			for _, pr := range perRecordResults[i].ProcessorResults {
				cr.Processors = append(cr.Processors, processorResultToWire(sel.Name, pr))
			}
		}
		out[i] = cr
	}
	return out
}

func (s *Server) handleShowQueue(ctx context.Context, principal *User, req Request) Response {
	records, err := s.queue.List(ctx, principal.Username, req.ClientJobID)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "QUEUE_LIST_FAILED", err.Error())
	}
	entries := make([]QueueEntryWire, 0, len(records))
	for _, rec := range records {
		var completed *string
		if rec.DatetimeCompleted != nil {
			s := rec.DatetimeCompleted.Format(time.RFC3339)
			completed = &s
		}
		entries = append(entries, QueueEntryWire{
			QueueID:           rec.QueueID,
			ClientJobID:       rec.ClientJobID,
			Status:            string(rec.Status),
			DatetimeSubmitted: rec.DatetimeSubmitted.Format(time.RFC3339),
			DatetimeCompleted: completed,
		})
	}
	return Response{
		Status:       http.StatusOK,
		Protocol:     newProtocol(),
		ServerInfo:   newServerInfo(),
		QueueEntries: entries,
	}
}

func (s *Server) handleFetchFromQueue(ctx context.Context, principal *User, req Request) Response {
	rec, err := s.queue.Get(ctx, req.QueueID, principal.Username)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "QUEUE_GET_FAILED", err.Error())
	}
	if rec == nil {
		return errorResponse(http.StatusNotFound, "QUEUE_NOT_FOUND", "no such queue_id")
	}
	if rec.Status == QueueStatusBusy {
		return errorResponse(http.StatusProcessing, "QUEUE_BUSY", "result not ready")
	}

	if err := s.queue.Delete(ctx, req.QueueID, principal.Username); err != nil {
		s.logger.WithError(err).WithField("queue_id", req.QueueID).Warn("failed to delete collected queue entry")
	}

	return Response{
		Status:     http.StatusOK,
		Protocol:   newProtocol(),
		ServerInfo: newServerInfo(),
		Results:    rec.Results,
	}
}

func (s *Server) handleDeleteFromQueue(ctx context.Context, principal *User, req Request) Response {
	switch {
	case req.DeleteAll:
		if err := s.queue.DeleteAllForUser(ctx, principal.Username); err != nil {
			return errorResponse(http.StatusInternalServerError, "QUEUE_DELETE_FAILED", err.Error())
		}
	case len(req.QueueIDs) > 0:
		for _, id := range req.QueueIDs {
			if err := s.queue.Delete(ctx, id, principal.Username); err != nil {
				return errorResponse(http.StatusInternalServerError, "QUEUE_DELETE_FAILED", err.Error())
			}
		}
	case len(req.ClientJobIDs) > 0:
		for _, jobID := range req.ClientJobIDs {
			records, err := s.queue.List(ctx, principal.Username, jobID)
			if err != nil {
				return errorResponse(http.StatusInternalServerError, "QUEUE_DELETE_FAILED", err.Error())
			}
			for _, rec := range records {
				if err := s.queue.Delete(ctx, rec.QueueID, principal.Username); err != nil {
					return errorResponse(http.StatusInternalServerError, "QUEUE_DELETE_FAILED", err.Error())
				}
			}
		}
	}
	return Response{Status: http.StatusOK, Protocol: newProtocol(), ServerInfo: newServerInfo()}
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if acceptsGzip(r) {
		compressed, err := gzipEncode(data)
		if err == nil {
			w.Header().Set("Content-Encoding", "gzip")
			w.WriteHeader(resp.Status)
			w.Write(compressed)
			return
		}
	}
	w.WriteHeader(resp.Status)
	w.Write(data)
}
