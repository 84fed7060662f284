// Package ingest turns GitHub webhook deliveries into commit jobs.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v73/github"
	"github.com/google/uuid"

	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
)

// Webhook event types that can create commit jobs.
const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
)

// Result describes what happened to one delivery.
type Result struct {
	DeliveryID string
	Duplicate  bool
	// Job is set when a commit job was created.
	Job *core.CommitJob
	// Ignored explains why no job was created for a new delivery.
	Ignored string
}

// Ingestor records every delivery and creates commit jobs for accepted
// push and pull request events.
type Ingestor struct {
	deliveries core.DeliveryStore
	notifier   core.WorkNotifier
	policy     core.IngestPolicy
	logger     *slog.Logger
}

// NewIngestor creates an ingestor using the configured allow-lists.
func NewIngestor(cfg *config.Config, deliveries core.DeliveryStore, notifier core.WorkNotifier, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		deliveries: deliveries,
		notifier:   notifier,
		policy: core.IngestPolicy{
			TrustedAuthors: cfg.GitHub.TrustedAuthors,
			Repos:          cfg.GitHub.Repos,
			DefaultBranch:  cfg.GitHub.DefaultBranch,
		},
		logger: logger,
	}
}

// Ingest handles one webhook delivery. Redelivered IDs are dropped. Events
// rejected by the allow-lists are logged and reported through Result.Ignored,
// not as errors. The delivery and its commit job are stored together, so a
// delivery that failed to store is processed again when it is redelivered.
func (i *Ingestor) Ingest(ctx context.Context, eventType, deliveryID string, payload []byte) (*Result, error) {
	var event any
	if eventType == EventPush || eventType == EventPullRequest {
		parsed, err := github.ParseWebHook(eventType, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: could not parse %s webhook: %w", core.ErrInvalidInput, eventType, err)
		}
		event = parsed
	}

	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	result := &Result{DeliveryID: deliveryID}

	var (
		job *core.CommitJob
		err error
	)
	switch e := event.(type) {
	case *github.PushEvent:
		job, err = core.CommitJobFromPush(e, i.policy)
	case *github.PullRequestEvent:
		job, err = core.CommitJobFromPullRequest(e, i.policy)
	default:
		err = fmt.Errorf("event type %q is not handled", eventType)
	}
	if err != nil {
		job = nil
		result.Ignored = err.Error()
	} else {
		job.DeliveryID = deliveryID
	}

	fresh, err := i.deliveries.RecordDelivery(ctx, &core.WebhookDelivery{
		DeliveryID: deliveryID,
		Event:      eventType,
		Payload:    payload,
	}, job)
	if err != nil {
		return nil, fmt.Errorf("failed to store delivery %s: %w", deliveryID, err)
	}
	if !fresh {
		i.logger.Info("dropping redelivered webhook", "delivery_id", deliveryID, "event", eventType)
		return &Result{DeliveryID: deliveryID, Duplicate: true}, nil
	}

	if job == nil {
		i.logger.Info("ignoring webhook", "delivery_id", deliveryID, "event", eventType, "reason", result.Ignored)
		return result, nil
	}

	i.logger.Info("created commit job",
		"job_id", job.ID,
		"repo", job.RepoFull,
		"sha", job.SHA,
		"fetch_ref", job.FetchRef,
		"delivery_id", deliveryID,
	)
	i.notifier.Notify()

	result.Job = job
	return result, nil
}
