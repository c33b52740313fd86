package app

import (
	"context"

	"cratenlp/internal/nlprp"
	apperrors "cratenlp/pkg/errors"
)

// cloudClient builds an nlprp.Client against the [cloud:NAME] section
// bound to nlpDefName, for the CLI's --immediate/--retrieve/--showqueue/
// --cancelrequest/--cancelall family (spec.md §4.5's client contract,
// used outside the Controller's own per-record RemoteExtractor calls).
func (a *App) cloudClient(nlpDefName string) (*nlprp.Client, error) {
	defCfg, ok := a.cfg.NlpDefs[nlpDefName]
	if !ok {
		return nil, apperrors.ConfigError("app", "cloudClient", apperrors.CodeConfigInvalid,
			"no [nlpdef:"+nlpDefName+"] section")
	}
	if defCfg.CloudConfig == "" {
		return nil, apperrors.ConfigError("app", "cloudClient", apperrors.CodeConfigInvalid,
			"[nlpdef:"+nlpDefName+"] names no cloud_config")
	}
	cloud, ok := a.cfg.Clouds[defCfg.CloudConfig]
	if !ok {
		return nil, apperrors.ConfigError("app", "cloudClient", apperrors.CodeConfigInvalid,
			"[nlpdef:"+nlpDefName+"] references undefined [cloud:"+defCfg.CloudConfig+"]")
	}
	return nlprp.NewClient(nlprp.ClientConfig{
		BaseURL:       cloud.CloudURL,
		Username:      cloud.Username,
		Password:      cloud.Password,
		Compress:      cloud.Compress,
		MaxTries:      cloud.MaxTries,
		WaitOnConnErr: cloud.WaitOnConnErr,
		RateLimitHz:   cloud.RateLimitHz,
	}, a.logger), nil
}

// clientQueueStore opens the CLI-side tracking table against the named
// nlpdef's progress database, the same connection RunNlpDef uses.
func (a *App) clientQueueStore(ctx context.Context, nlpDefName string) (*ClientQueueStore, error) {
	defCfg, ok := a.cfg.NlpDefs[nlpDefName]
	if !ok {
		return nil, apperrors.ConfigError("app", "clientQueueStore", apperrors.CodeConfigInvalid,
			"no [nlpdef:"+nlpDefName+"] section")
	}
	db, err := a.database(defCfg.ProgressDB)
	if err != nil {
		return nil, err
	}
	store := OpenClientQueueStore(db.DB, driverNames[a.cfg.Databases[defCfg.ProgressDB].Dialect])
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// processorSelectors builds one selector per processor bound to nlpDefName.
func (a *App) processorSelectors(nlpDefName string) []nlprp.ProcessorSelector {
	defCfg := a.cfg.NlpDefs[nlpDefName]
	selectors := make([]nlprp.ProcessorSelector, 0, len(defCfg.Processors))
	for _, name := range defCfg.Processors {
		selectors = append(selectors, nlprp.ProcessorSelector{Name: name})
	}
	return selectors
}

// SubmitImmediate sends one piece of text through nlpDefName's cloud
// config synchronously (queue=false), returning the NLPRP response as
// soon as the server has processed it.
func (a *App) SubmitImmediate(ctx context.Context, nlpDefName, text string) (*nlprp.Response, error) {
	client, err := a.cloudClient(nlpDefName)
	if err != nil {
		return nil, err
	}
	content := []nlprp.ContentItem{{Text: text}}
	return client.Process(ctx, a.processorSelectors(nlpDefName), content, false)
}

// SubmitQueued submits one piece of text in queued mode and remembers
// the returned queue_id locally, so a later --retrieve run can collect
// it (spec.md §4.5's "persist the returned queue_id ... to a local
// request-tracking area keyed by NLP definition").
func (a *App) SubmitQueued(ctx context.Context, nlpDefName, clientJobID, text string) (string, error) {
	client, err := a.cloudClient(nlpDefName)
	if err != nil {
		return "", err
	}
	content := []nlprp.ContentItem{{Text: text}}
	resp, err := client.Process(ctx, a.processorSelectors(nlpDefName), content, true)
	if err != nil {
		return "", err
	}

	store, err := a.clientQueueStore(ctx, nlpDefName)
	if err != nil {
		return "", err
	}
	if err := store.Track(ctx, resp.QueueID, nlpDefName, clientJobID); err != nil {
		return "", err
	}
	return resp.QueueID, nil
}

// RetrievedResult is one collected queued submission's outcome.
type RetrievedResult struct {
	Entry    ClientQueueEntry
	Response *nlprp.Response
	Pending  bool // still busy server-side; left tracked for the next --retrieve
}

// Retrieve fetches every locally tracked queue_id for nlpDefName,
// untracking and returning the ones the server has finished, and
// leaving still-busy ones tracked for the next run.
func (a *App) Retrieve(ctx context.Context, nlpDefName string) ([]RetrievedResult, error) {
	client, err := a.cloudClient(nlpDefName)
	if err != nil {
		return nil, err
	}
	store, err := a.clientQueueStore(ctx, nlpDefName)
	if err != nil {
		return nil, err
	}
	entries, err := store.List(ctx, nlpDefName)
	if err != nil {
		return nil, err
	}

	out := make([]RetrievedResult, 0, len(entries))
	for _, entry := range entries {
		resp, err := client.FetchFromQueue(ctx, entry.QueueID)
		if err != nil {
			return out, err
		}
		if resp.Status == 102 || resp.Status == 202 || resp.Status == 425 {
			out = append(out, RetrievedResult{Entry: entry, Response: resp, Pending: true})
			continue
		}
		if err := store.Untrack(ctx, entry.QueueID); err != nil {
			return out, err
		}
		out = append(out, RetrievedResult{Entry: entry, Response: resp})
	}
	return out, nil
}

// ShowQueue lists the queue entries the remote server holds for this
// nlpdef's cloud account (spec.md §4.5's show_queue command). No
// client_job_id filter is sent, so entries are not narrowed to the ones
// this nlpdef submitted.
func (a *App) ShowQueue(ctx context.Context, nlpDefName string) (*nlprp.Response, error) {
	client, err := a.cloudClient(nlpDefName)
	if err != nil {
		return nil, err
	}
	return client.ShowQueue(ctx, "")
}

// CancelRequest deletes one queued submission, server-side and locally.
func (a *App) CancelRequest(ctx context.Context, nlpDefName, queueID string) error {
	client, err := a.cloudClient(nlpDefName)
	if err != nil {
		return err
	}
	if _, err := client.DeleteFromQueue(ctx, []string{queueID}, nil, false); err != nil {
		return err
	}
	store, err := a.clientQueueStore(ctx, nlpDefName)
	if err != nil {
		return err
	}
	return store.Untrack(ctx, queueID)
}

// CancelAll sends delete_all to the server, removing every queue entry
// held for this nlpdef's cloud account (not only the ones nlpDefName
// submitted), then drops every entry tracked locally for nlpDefName.
func (a *App) CancelAll(ctx context.Context, nlpDefName string) error {
	client, err := a.cloudClient(nlpDefName)
	if err != nil {
		return err
	}
	if _, err := client.DeleteFromQueue(ctx, nil, nil, true); err != nil {
		return err
	}
	store, err := a.clientQueueStore(ctx, nlpDefName)
	if err != nil {
		return err
	}
	return store.UntrackAll(ctx, nlpDefName)
}
