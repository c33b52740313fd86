// Package remote implements RemoteExtractor: the client-side Extractor
// adapter that hands records to an external NLPRP server instead of
// processing them in-process.
package remote

import (
	"context"
	"strconv"

	"cratenlp/internal/nlprp"
	apperrors "cratenlp/pkg/errors"
	"cratenlp/pkg/nlpcore"
)

// Config bounds one RemoteExtractor instance's request shaping, mirroring
// the [cloud:NAME] fields from spec.md §6 that govern client-side
// batching rather than transport (transport config lives in
// nlprp.ClientConfig).
type Config struct {
	MaxRecordsPerRequest int
	MaxContentLengthBytes int64
	StopAtFailure         bool
}

// Extractor is RemoteExtractor: one NLPRP processor name/version,
// invoked over an nlprp.Client. Records are grouped into sub-batches
// respecting MaxRecordsPerRequest/MaxContentLengthBytes before each
// client.Process call, per spec.md §4.5's "bounded request size"
// client contract.
type Extractor struct {
	processorName string
	version       string
	client        *nlprp.Client
	cfg           Config
}

func New(processorName, version string, client *nlprp.Client, cfg Config) *Extractor {
	if cfg.MaxRecordsPerRequest <= 0 {
		cfg.MaxRecordsPerRequest = 100
	}
	if cfg.MaxContentLengthBytes <= 0 {
		cfg.MaxContentLengthBytes = 10 * 1024 * 1024
	}
	return &Extractor{processorName: processorName, version: version, client: client, cfg: cfg}
}

// Describe asks the remote server to list its processors and returns
// only the one this Extractor is bound to.
func (e *Extractor) Describe(ctx context.Context) ([]nlpcore.ProcessorDescriptor, error) {
	resp, err := e.client.ListProcessors(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range resp.Processors {
		if p.Name != e.processorName {
			continue
		}
		if e.version != "" && p.Version != e.version {
			continue
		}
		return []nlpcore.ProcessorDescriptor{wireToDescriptor(p)}, nil
	}
	return nil, apperrors.ConfigError("remote", "Describe", apperrors.CodeConfigUnknownProcessor,
		"remote server does not advertise processor "+e.processorName)
}

// ProcessBatch groups records into size-bounded sub-batches and submits
// each with queue=false, mapping each content item's metadata-carried
// record identity back to a PerRecordResult. A record whose text alone
// exceeds MaxContentLengthBytes is marked failed locally and never
// transmitted, per spec.md §4.5.
func (e *Extractor) ProcessBatch(ctx context.Context, records []nlpcore.SourceRecord) ([]nlpcore.PerRecordResult, error) {
	results := make([]nlpcore.PerRecordResult, 0, len(records))

	var group []nlpcore.SourceRecord
	var groupBytes int64

	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		res, err := e.submit(ctx, group)
		if err != nil {
			if e.cfg.StopAtFailure {
				return err
			}
			for _, rec := range group {
				results = append(results, failureResult(e.processorName, recordIdentity(rec), err.Error()))
			}
			group = nil
			groupBytes = 0
			return nil
		}
		results = append(results, res...)
		group = nil
		groupBytes = 0
		return nil
	}

	for _, rec := range records {
		recBytes := int64(len(rec.Text))
		if recBytes > e.cfg.MaxContentLengthBytes {
			results = append(results, failureResult(e.processorName, recordIdentity(rec),
				"record exceeds max_content_length and was not transmitted"))
			continue
		}

		if len(group) >= e.cfg.MaxRecordsPerRequest || groupBytes+recBytes > e.cfg.MaxContentLengthBytes {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		group = append(group, rec)
		groupBytes += recBytes
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return results, nil
}

func (e *Extractor) submit(ctx context.Context, records []nlpcore.SourceRecord) ([]nlpcore.PerRecordResult, error) {
	content := make([]nlprp.ContentItem, len(records))
	for i, rec := range records {
		content[i] = nlprp.ContentItem{
			Text:     rec.Text,
			Metadata: map[string]any{"record_id": recordIdentity(rec)},
		}
	}

	selectors := []nlprp.ProcessorSelector{{Name: e.processorName, Version: e.version}}
	resp, err := e.client.Process(ctx, selectors, content, false)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, apperrors.TransientError("remote", "submit", apperrors.CodeTransientHTTP, resp.Errors[0].Message)
	}

	results := make([]nlpcore.PerRecordResult, 0, len(resp.Results))
	for i, cr := range resp.Results {
		recordID := recordIdentityFromMetadata(cr.Metadata, records, i)
		pr := nlpcore.PerRecordResult{RecordID: recordID}
		for _, w := range cr.Processors {
			pr.ProcessorResults = append(pr.ProcessorResults, wireToProcessorResult(w))
		}
		results = append(results, pr)
	}
	return results, nil
}

func (e *Extractor) Close() error { return nil }

func recordIdentity(rec nlpcore.SourceRecord) string {
	if rec.IsStringPK() {
		return rec.PKString
	}
	return strconv.FormatInt(rec.PKValue, 10)
}

func recordIdentityFromMetadata(metadata map[string]any, fallback []nlpcore.SourceRecord, index int) string {
	if metadata != nil {
		if id, ok := metadata["record_id"].(string); ok {
			return id
		}
	}
	if index < len(fallback) {
		return recordIdentity(fallback[index])
	}
	return ""
}

func failureResult(processorName, recordID, message string) nlpcore.PerRecordResult {
	return nlpcore.PerRecordResult{
		RecordID: recordID,
		ProcessorResults: []nlpcore.ProcessorResult{
			{Name: processorName, Success: false, Errors: []string{message}},
		},
	}
}
