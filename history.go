package gotopics

import (
	"context"
	"errors"
	"fmt"

	"github.com/brunobiangulo/gotopics/store"
)

// Save implements Engine.
func (e *engine) Save(ctx context.Context, res *Result, source string) error {
	if e.svc.Store == nil {
		return stageErr(StageStore, ErrStoreDisabled)
	}
	run := store.Run{
		ID:         res.RunID,
		Source:     source,
		Records:    res.Report.Records,
		Clustered:  res.Report.Clustered,
		Noise:      len(res.Noise),
		Degenerate: res.Report.Degenerate,
		ElapsedMs:  res.Report.Elapsed.Milliseconds(),
		Messages:   res.Report.Messages(),
		Rows:       make([]store.Row, len(res.Rows)),
	}
	for i, r := range res.Rows {
		run.Rows[i] = store.Row{
			GeneralTopic:  r.GeneralTopic,
			Subtopic:      r.Subtopic,
			Sentiment:     r.Sentiment.String(),
			ResponseCount: r.ResponseCount,
			Summary:       r.Summary,
		}
	}
	if err := e.svc.Store.SaveRun(ctx, run); err != nil {
		return stageErr(StageStore, fmt.Errorf("saving run %s: %w", res.RunID, err))
	}
	return nil
}

// Runs implements Engine.
func (e *engine) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	if e.svc.Store == nil {
		return nil, ErrStoreDisabled
	}
	return e.svc.Store.ListRuns(ctx, limit)
}

// GetRun implements Engine.
func (e *engine) GetRun(ctx context.Context, id string) (*store.Run, error) {
	if e.svc.Store == nil {
		return nil, ErrStoreDisabled
	}
	run, err := e.svc.Store.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// DeleteRun implements Engine.
func (e *engine) DeleteRun(ctx context.Context, id string) error {
	if e.svc.Store == nil {
		return ErrStoreDisabled
	}
	err := e.svc.Store.DeleteRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return err
}
