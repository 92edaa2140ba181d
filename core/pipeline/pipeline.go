// Package pipeline runs one sweep of the job queue: ingest messages into the store, render a
// bundle for every eligible job and hand it to the scheduler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"hattivatti/core/executor"
	"hattivatti/core/models"
	"hattivatti/core/queue"
	"hattivatti/core/render"
	"hattivatti/core/repository"
	"hattivatti/core/request"
	"hattivatti/core/schema"
	"hattivatti/storage"

	"github.com/google/uuid"
	"github.com/phuslu/log"
)

// previewLength is the number of characters of each loaded manifest written to the log
const previewLength = 50

// Store commits or discards the store changes made by a run
type Store interface {
	// Checkpoint makes the changes so far durable
	Checkpoint(ctx context.Context) error

	// Finalize commits the remaining changes, or discards them all for a dry run
	Finalize(ctx context.Context, dryRun bool) error
}

// Summary counts what happened during one run
type Summary struct {
	RunID      string
	Listed     int
	Ingested   int
	Invalid    int
	Duplicates int
	Rendered   int
	Submitted  int
	Failed     int
}

// Config wires the pipeline collaborators
type Config struct {
	Source    queue.Source
	Jobs      *repository.JobRepository
	Store     Store
	Validator *schema.Validator
	Renderer  *render.Renderer
	Submitter executor.Submitter
	WorkDir   *storage.WorkingDirectory
	DryRun    bool
	Logger    *log.Logger
}

// Pipeline is a single invocation of the batch submitter
type Pipeline struct {
	source    queue.Source
	jobs      *repository.JobRepository
	store     Store
	validator *schema.Validator
	renderer  *render.Renderer
	submitter executor.Submitter
	workDir   *storage.WorkingDirectory
	dryRun    bool
	runID     string
	logger    *log.Logger
}

// New creates a pipeline with a fresh run id added to every log entry
func New(cfg Config) *Pipeline {
	runID := uuid.New().String()

	logger := *cfg.Logger
	logger.Context = log.NewContext(nil).Str("run_id", runID).Value()

	return &Pipeline{
		source:    cfg.Source,
		jobs:      cfg.Jobs,
		store:     cfg.Store,
		validator: cfg.Validator,
		renderer:  cfg.Renderer,
		submitter: cfg.Submitter,
		workDir:   cfg.WorkDir,
		dryRun:    cfg.DryRun,
		runID:     runID,
		logger:    &logger,
	}
}

// RunID returns the id attached to this run's log entries
func (p *Pipeline) RunID() string {
	return p.runID
}

// Run ingests the queue, submits eligible jobs and finalizes the store.
// Any returned error leaves the store unfinalized and closing it discards the changes since the
// last checkpoint. Outside a dry run the store is checkpointed before messages are deleted and
// around every submission, so nothing discarded is needed by the bucket or the scheduler.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{RunID: p.runID}

	if err := p.ingest(ctx, summary); err != nil {
		return summary, err
	}

	if err := p.processJobs(ctx, summary); err != nil {
		return summary, err
	}

	if err := p.store.Finalize(ctx, p.dryRun); err != nil {
		return summary, fmt.Errorf("failed to finalize store: %w", err)
	}

	return summary, nil
}

// ingest moves every queued message into the store
func (p *Pipeline) ingest(ctx context.Context, summary *Summary) error {
	bucket := p.source.Bucket()

	keys, err := p.source.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}
	summary.Listed = len(keys)

	if len(keys) == 0 {
		p.logger.Info().Str("bucket", bucket).Msg("No new messages in queue")
		return nil
	}
	p.logger.Info().Str("bucket", bucket).Int("count", len(keys)).Msg("Found messages in queue")

	var ingested []string
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}

		content, err := p.source.Fetch(ctx, key)
		if err != nil {
			p.logger.Warn().Str("bucket", bucket).Str("key", key).Err(err).Msg("Can't fetch message, skipping")
			continue
		}
		msg := models.Message{Bucket: bucket, Key: key, Content: content}
		p.logger.Info().Str("key", key).Str("manifest", preview(content)).Msg("Loaded message")

		msg.Valid = p.validate(msg)

		if _, err := p.jobs.Ingest(ctx, msg.Content, msg.Valid); err != nil {
			if errors.Is(err, repository.ErrDuplicateJob) {
				summary.Duplicates++
			}
			p.logger.Warn().Str("key", key).Err(err).Msg("Can't insert message into store, skipping")
			continue
		}
		summary.Ingested++
		if !msg.Valid {
			summary.Invalid++
		}
		ingested = append(ingested, key)
	}

	if p.dryRun {
		if len(ingested) > 0 {
			p.logger.Info().Int("count", len(ingested)).Msg("--dry-run set, not deleting messages from bucket")
		}
		return nil
	}
	if len(ingested) == 0 {
		return nil
	}

	if err := p.store.Checkpoint(ctx); err != nil {
		return fmt.Errorf("failed to commit ingested messages: %w", err)
	}
	for _, key := range ingested {
		if err := p.source.Delete(ctx, key); err != nil {
			p.logger.Warn().Str("key", key).Err(err).Msg("Can't delete message from bucket")
		}
	}

	return nil
}

// validate checks one message against the schema and logs every diagnostic
func (p *Pipeline) validate(msg models.Message) bool {
	result := p.validator.Validate(msg.Content)
	if result.Valid {
		p.logger.Info().Str("key", msg.Key).Msg("Message is valid")
		return true
	}

	for _, d := range result.Diagnostics {
		p.logger.Warn().
			Str("key", msg.Key).
			Str("instance_path", d.InstanceLocation).
			Str("keyword_path", d.KeywordLocation).
			Msg(d.Message)
	}
	p.logger.Warn().Str("key", msg.Key).Int("errors", len(result.Diagnostics)).Msg("Message is invalid")
	return false
}

// processJobs renders and submits every eligible job in insertion order
func (p *Pipeline) processJobs(ctx context.Context, summary *Summary) error {
	jobs, err := p.jobs.ValidJobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		p.logger.Info().Msg("No jobs to submit")
		return nil
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := request.Parse(job.Manifest)
		if err != nil {
			return fmt.Errorf("failed to parse stored job %d: %w", job.RowID, err)
		}

		if err := p.processJob(ctx, req, summary); err != nil {
			return err
		}
	}

	return nil
}

// processJob handles a single job. Render and submit failures only affect this job and are
// logged; store failures are returned.
func (p *Pipeline) processJob(ctx context.Context, req *models.JobRequest, summary *Summary) error {
	id := req.PipelineParam.ID

	dir, err := p.workDir.PrepareJobDir(id)
	if err != nil {
		summary.Failed++
		p.logger.Error().Str("intervene_id", id).Err(err).Msg("Can't create job directory")
		return nil
	}

	bundle, err := p.renderer.Render(req, dir)
	if err != nil {
		summary.Failed++
		p.logger.Error().Str("intervene_id", id).Err(err).Msg("Can't render job")
		return nil
	}
	summary.Rendered++
	p.logger.Info().Str("intervene_id", id).Str("script", bundle.Script).Msg("Rendered job")

	if p.dryRun {
		p.logger.Info().Str("intervene_id", id).Msg("--dry-run set, not submitting job")
		return nil
	}

	if err := p.jobs.MarkStaged(ctx, id); err != nil {
		return err
	}
	if err := p.store.Checkpoint(ctx); err != nil {
		return fmt.Errorf("failed to commit staged job %s: %w", id, err)
	}

	slurmID, err := p.submitter.Submit(ctx, bundle.Script, bundle.Dir)
	if err != nil {
		summary.Failed++
		p.logger.Error().Str("intervene_id", id).Err(err).Msg("Can't submit job")
		return nil
	}

	// The scheduler has the job now; record it even if the run is being cancelled.
	recordCtx := context.WithoutCancel(ctx)
	if err := p.jobs.MarkSubmitted(recordCtx, id); err != nil {
		return err
	}
	if err := p.jobs.SetSlurmID(recordCtx, id, slurmID); err != nil {
		return err
	}
	if err := p.store.Checkpoint(recordCtx); err != nil {
		return fmt.Errorf("failed to commit submitted job %s: %w", id, err)
	}
	summary.Submitted++
	p.logger.Info().Str("intervene_id", id).Str("slurm_id", slurmID).Msg("Submitted job")

	return nil
}

// preview returns at most previewLength characters of content
func preview(content []byte) string {
	if utf8.RuneCount(content) <= previewLength {
		return string(content)
	}
	runes := []rune(string(content))
	return string(runes[:previewLength])
}
