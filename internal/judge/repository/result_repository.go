package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"judgebox/internal/common/cache"
	"judgebox/internal/judge/model"
	"judgebox/internal/judge/sandbox/result"
	appErr "judgebox/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	resultKeyPrefix   = "judge:result:"
	progressKeyPrefix = "judge:progress:"
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// ResultRepository stores finished submission records and in-flight progress.
type ResultRepository struct {
	cache cache.Cache
	TTL   time.Duration
}

// NewResultRepository creates a new repository.
func NewResultRepository(cacheClient cache.Cache, ttl time.Duration) *ResultRepository {
	return &ResultRepository{cache: cacheClient, TTL: ttl}
}

// Save persists a finished record as zstd-compressed JSON.
func (r *ResultRepository) Save(ctx context.Context, record model.SubmissionRecord) error {
	if record.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record failed: %w", err)
	}
	compressed := encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	if err := r.cache.Set(ctx, resultKeyPrefix+record.SubmissionID, compressed, cache.JitterTTL(r.TTL)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store result failed")
	}
	return nil
}

// Get returns the finished record, or SubmissionNotFound.
func (r *ResultRepository) Get(ctx context.Context, submissionID string) (model.SubmissionRecord, error) {
	if submissionID == "" {
		return model.SubmissionRecord{}, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return model.SubmissionRecord{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, resultKeyPrefix+submissionID)
	if err != nil {
		return model.SubmissionRecord{}, appErr.Wrapf(err, appErr.CacheError, "load result failed")
	}
	if val == "" {
		return model.SubmissionRecord{}, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", submissionID)
	}
	data, err := decoder.DecodeAll([]byte(val), nil)
	if err != nil {
		return model.SubmissionRecord{}, appErr.Wrapf(err, appErr.CacheError, "decompress result failed")
	}
	var record model.SubmissionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.SubmissionRecord{}, appErr.Wrapf(err, appErr.CacheError, "decode result failed")
	}
	return record, nil
}

// SaveProgress records the stage of a running evaluation in a hash.
func (r *ResultRepository) SaveProgress(ctx context.Context, record model.SubmissionRecord) error {
	if record.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	key := progressKeyPrefix + record.SubmissionID
	fields := map[string]interface{}{
		"language":   record.Language,
		"status":     string(record.Status),
		"total":      record.Progress.TotalTests,
		"done":       record.Progress.DoneTests,
		"receivedAt": record.ReceivedAt,
	}
	err := r.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.HMSet(key, fields); err != nil {
			return err
		}
		if r.TTL > 0 {
			return pipe.Expire(key, r.TTL)
		}
		return nil
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store progress failed")
	}
	return nil
}

// GetProgress returns the progress of a running evaluation, or SubmissionNotFound.
func (r *ResultRepository) GetProgress(ctx context.Context, submissionID string) (model.SubmissionRecord, error) {
	if submissionID == "" {
		return model.SubmissionRecord{}, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return model.SubmissionRecord{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	fields, err := r.cache.HGetAll(ctx, progressKeyPrefix+submissionID)
	if err != nil {
		return model.SubmissionRecord{}, appErr.Wrapf(err, appErr.CacheError, "load progress failed")
	}
	if len(fields) == 0 {
		return model.SubmissionRecord{}, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", submissionID)
	}
	total, _ := strconv.Atoi(fields["total"])
	done, _ := strconv.Atoi(fields["done"])
	receivedAt, _ := strconv.ParseInt(fields["receivedAt"], 10, 64)
	return model.SubmissionRecord{
		SubmissionID: submissionID,
		Language:     fields["language"],
		Status:       result.JudgeStatus(fields["status"]),
		Progress:     model.Progress{TotalTests: total, DoneTests: done},
		ReceivedAt:   receivedAt,
	}, nil
}
