// Package relay sends moderator decisions to the server and merges the
// confirmed result into the local store.
package relay

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ibeckermayer/modsync/internal/apiclient"
	"github.com/ibeckermayer/modsync/internal/notifier"
	"github.com/ibeckermayer/modsync/internal/state"
	"github.com/ibeckermayer/modsync/internal/types"
)

// Client is the subset of the API the relay needs
type Client interface {
	PostAction(ctx context.Context, id int64, req apiclient.ActionRequest) (apiclient.ActionResponse, error)
	BatchAction(ctx context.Context, req apiclient.BatchRequest) (apiclient.BatchResponse, error)
}

// Relay performs single and batch decisions
type Relay struct {
	store  *state.Store
	client Client
	notify *notifier.Notifier
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Relay
type Option func(*Relay)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithNotifier sets where success and error notices go
func WithNotifier(n *notifier.Notifier) Option {
	return func(r *Relay) { r.notify = n }
}

// WithClock overrides the clock used for processed/posted times
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// New creates a relay writing into store
func New(store *state.Store, client Client, opts ...Option) *Relay {
	r := &Relay{
		store:  store,
		client: client,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SingleOptions are optional parameters of a single decision
type SingleOptions struct {
	Notes string
	// ShareURL is the intent URL the moderator shared, post_twitter only.
	ShareURL string
}

// PerformSingle applies action to one post. The local post is only changed
// after the server confirms.
func (r *Relay) PerformSingle(ctx context.Context, id int64, action types.Action, opts SingleOptions) (types.ActionResult, error) {
	post, ok := r.store.Snapshot().Post(id)
	if !ok {
		return types.ActionResult{}, r.rejected(apiclient.Validation("Post %d is not loaded; refresh and try again", id))
	}
	target, err := Target(post.Status, action)
	if err != nil {
		return types.ActionResult{}, r.rejected(err)
	}

	req := apiclient.ActionRequest{Action: action, Notes: opts.Notes}
	if action == types.ActionPostTwitter {
		req.TwitterURL = opts.ShareURL
	}

	resp, err := r.client.PostAction(ctx, id, req)
	if err != nil {
		return types.ActionResult{}, r.failed(err, zap.Int64("post_id", id), zap.String("action", string(action)))
	}

	status := target
	if resp.NewStatus != "" {
		confirmed, ok := types.NormalizeStatus(resp.NewStatus)
		switch {
		case !ok:
			r.logger.Warn("server reported unknown status, using local target",
				zap.Int64("post_id", id),
				zap.String("reported", resp.NewStatus),
				zap.String("target", string(target)))
		case confirmed != target:
			r.logger.Warn("server status differs from local target",
				zap.Int64("post_id", id),
				zap.String("reported", string(confirmed)),
				zap.String("target", string(target)))
			status = confirmed
		}
	}

	now := r.now()
	patch := state.PostPatch{Status: &status, ProcessedAt: &now}
	if status == types.StatusPosted {
		patch.PostedAt = &now
		if req.TwitterURL != "" {
			patch.TwitterURL = &req.TwitterURL
		}
	}
	r.store.Apply(state.MergeItem{ID: id, Patch: patch})

	msg := resp.Message
	if msg == "" {
		msg = "Action completed successfully"
	}
	r.logger.Info("action applied",
		zap.Int64("post_id", id),
		zap.String("action", string(action)),
		zap.String("status", string(status)))
	r.notify.Success("Success", msg)
	return types.ActionResult{NewStatus: status, Message: msg}, nil
}

// PerformBatch applies one action to many posts in a single request. Only
// delete and archive have a status the client can record without a refresh.
func (r *Relay) PerformBatch(ctx context.Context, ids []int64, action types.Action, notes string) (types.ActionResult, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return types.ActionResult{}, r.rejected(apiclient.Validation("No posts selected"))
	}
	if action == types.ActionPostTwitter {
		return types.ActionResult{}, r.rejected(apiclient.Validation("%s must be performed one post at a time", action))
	}

	snap := r.store.Snapshot()
	var target types.Status
	for _, id := range ids {
		post, ok := snap.Post(id)
		if !ok {
			return types.ActionResult{}, r.rejected(apiclient.Validation("Post %d is not loaded; refresh and try again", id))
		}
		to, err := Target(post.Status, action)
		if err != nil {
			return types.ActionResult{}, r.rejected(apiclient.Validation("Post %d: %s", id, message(err)))
		}
		target = to
	}

	resp, err := r.client.BatchAction(ctx, apiclient.BatchRequest{PostIDs: ids, Action: action, Notes: notes})
	if err != nil {
		return types.ActionResult{}, r.failed(err, zap.Int("count", len(ids)), zap.String("action", string(action)))
	}

	result := types.ActionResult{Message: resp.Message}
	if result.Message == "" {
		result.Message = "Batch action completed successfully"
	}

	if action == types.ActionDelete || action == types.ActionArchive {
		failed := make(map[int64]bool)
		for _, item := range resp.Results {
			if !item.Success {
				failed[item.PostID] = true
			}
		}
		now := r.now()
		for _, id := range ids {
			if failed[id] {
				continue
			}
			r.store.Apply(state.MergeItem{ID: id, Patch: state.PostPatch{Status: &target, ProcessedAt: &now}})
		}
		result.NewStatus = target
		if len(failed) > 0 {
			r.logger.Warn("batch partially applied", zap.Int("failed", len(failed)), zap.Int("count", len(ids)))
		}
	}

	r.logger.Info("batch applied", zap.Int("count", len(ids)), zap.String("action", string(action)))
	r.notify.Success("Success", result.Message)
	return result, nil
}

// rejected reports a decision that was never sent
func (r *Relay) rejected(err error) error {
	r.logger.Debug("action rejected locally", zap.Error(err))
	r.notify.Error(apiclient.KindOf(err).Title(), message(err))
	return err
}

// failed records a server or transport failure in the session
func (r *Relay) failed(err error, fields ...zap.Field) error {
	r.logger.Warn("action failed", append(fields, zap.Error(err))...)
	r.store.Apply(state.SetError{Err: err})
	r.notify.Error(apiclient.KindOf(err).Title(), message(err))
	return err
}

func message(err error) string {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func uniqueIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
