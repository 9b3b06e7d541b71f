// Package redisstore keeps analysis jobs in Redis so results survive restarts
// and can be polled from any replica.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
)

const keyPrefix = "vidstream:job:"

// Connect opens a client and verifies the server answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

// JobStore is a ResultStore on Redis. Every save refreshes the TTL.
type JobStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewJobStore(client redis.Cmdable, ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JobStore{client: client, ttl: ttl}
}

func jobKey(id string) string {
	return keyPrefix + id
}

func (s *JobStore) SaveJob(ctx context.Context, job *domain.AnalysisJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	if err := s.client.Set(ctx, jobKey(job.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, id string) (*domain.AnalysisJob, error) {
	val, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ports.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	var job domain.AnalysisJob
	if err := json.Unmarshal(val, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}
