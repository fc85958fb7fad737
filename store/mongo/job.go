package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
)

var oldestFirst = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// InsertJob persists a new job.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) error {
	_, err := s.jobs().InsertOne(ctx, toJobModel(j))
	if err != nil {
		if onKey, ok := duplicateKey(err); ok {
			if onKey {
				return outbox.ErrDuplicateIdempotencyKey
			}
			return outbox.ErrJobAlreadyExists
		}
		return fmt.Errorf("outbox/mongo: insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.findOne(ctx, bson.M{"_id": jobID.String()}, "get job")
}

// FindByIdempotencyKey retrieves the job holding key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	return s.findOne(ctx, bson.M{"idempotency_key": key}, "find by idempotency key")
}

func (s *Store) findOne(ctx context.Context, filter bson.M, op string) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, filter).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, outbox.ErrJobNotFound
		}
		return nil, fmt.Errorf("outbox/mongo: %s: %w", op, err)
	}
	return fromJobModel(&m)
}

// FindDue returns up to limit queued jobs due at now, oldest first.
func (s *Store) FindDue(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	filter := bson.M{
		"status":      string(job.StatusQueued),
		"next_run_at": bson.M{"$lte": now.UTC()},
	}
	opts := options.Find().SetSort(oldestFirst)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, filter, opts, "find due")
}

// ListJobs returns jobs matching opts, oldest first.
func (s *Store) ListJobs(ctx context.Context, lo job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{}
	if lo.Status != "" {
		filter["status"] = string(lo.Status)
	}
	if lo.CorrelationID != "" {
		filter["correlation_id"] = lo.CorrelationID
	}
	opts := options.Find().SetSort(oldestFirst)
	if lo.Limit > 0 {
		opts.SetLimit(int64(lo.Limit))
	}
	if lo.Offset > 0 {
		opts.SetSkip(int64(lo.Offset))
	}
	return s.find(ctx, filter, opts, "list jobs")
}

// ListByStatus returns every job in status.
func (s *Store) ListByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	return s.ListJobs(ctx, job.ListOpts{Status: status})
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder, op string) ([]*job.Job, error) {
	cursor, err := s.jobs().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("outbox/mongo: %s: %w", op, err)
	}
	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("outbox/mongo: %s decode: %w", op, err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// UpdateJob applies p as a single compare-and-update.
func (s *Store) UpdateJob(ctx context.Context, jobID id.JobID, p job.Patch) error {
	set := bson.M{"updated_at": s.now().UTC()}
	if p.Status != "" {
		set["status"] = string(p.Status)
	}
	if p.Attempts != nil {
		set["attempts"] = *p.Attempts
	}
	if p.NextRunAt != nil {
		set["next_run_at"] = p.NextRunAt.UTC()
	}
	if p.Error != nil {
		set["last_error"] = *p.Error
	}
	if p.Result != nil {
		set["result"] = string(p.Result)
	}

	filter := bson.M{"_id": jobID.String()}
	if p.Expect != "" {
		filter["status"] = string(p.Expect)
	}

	res, err := s.jobs().UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("outbox/mongo: update job: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.jobs().CountDocuments(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("outbox/mongo: update job: %w", err)
	}
	if n == 0 {
		return outbox.ErrJobNotFound
	}
	return outbox.ErrStaleState
}

// DeleteJobs removes every job in status.
func (s *Store) DeleteJobs(ctx context.Context, status job.Status) (int64, error) {
	res, err := s.jobs().DeleteMany(ctx, bson.M{"status": string(status)})
	if err != nil {
		return 0, fmt.Errorf("outbox/mongo: delete jobs: %w", err)
	}
	return res.DeletedCount, nil
}

// Stats aggregates the job collection.
func (s *Store) Stats(ctx context.Context) (*job.Stats, error) {
	stats := &job.Stats{}

	counts, err := s.aggregate(ctx, mongod.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("outbox/mongo: stats counts: %w", err)
	}
	for _, row := range counts {
		var c struct {
			Status string `bson:"_id"`
			Count  int64  `bson:"count"`
		}
		if err := bson.Unmarshal(row, &c); err != nil {
			return nil, fmt.Errorf("outbox/mongo: stats counts decode: %w", err)
		}
		stats.Add(job.Status(c.Status), c.Count)
	}

	var oldest jobModel
	err = s.jobs().FindOne(ctx,
		bson.M{"status": string(job.StatusQueued)},
		options.FindOne().SetSort(oldestFirst),
	).Decode(&oldest)
	switch {
	case err == nil:
		at := oldest.CreatedAt.UTC()
		stats.OldestQueuedAt = &at
	case !isNoDocuments(err):
		return nil, fmt.Errorf("outbox/mongo: stats oldest: %w", err)
	}

	means, err := s.aggregate(ctx, mongod.Pipeline{
		{{Key: "$match", Value: bson.M{"status": bson.M{"$in": []string{
			string(job.StatusSucceeded), string(job.StatusFailed),
		}}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "mean", Value: bson.D{{Key: "$avg", Value: bson.D{
				{Key: "$subtract", Value: bson.A{"$updated_at", "$created_at"}},
			}}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("outbox/mongo: stats mean: %w", err)
	}
	if len(means) > 0 {
		var m struct {
			Mean *float64 `bson:"mean"`
		}
		if err := bson.Unmarshal(means[0], &m); err != nil {
			return nil, fmt.Errorf("outbox/mongo: stats mean decode: %w", err)
		}
		stats.MeanDurationMs = m.Mean
	}
	return stats, nil
}

func (s *Store) aggregate(ctx context.Context, pipeline mongod.Pipeline) ([]bson.Raw, error) {
	cursor, err := s.jobs().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []bson.Raw
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
