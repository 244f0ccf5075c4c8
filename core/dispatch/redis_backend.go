package dispatch

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/solpine/sol_wallet/core/errs"
	"github.com/solpine/sol_wallet/core/redis"
)

const (
	activeJobsKey   = "dispatch:active"
	resultKeyPrefix = "dispatch:result:"
	resultTTL       = 24 * time.Hour
)

// RedisRegistry stores active job identities in a shared hash so
// duplicate checks see jobs of every worker process.
type RedisRegistry struct{}

func (RedisRegistry) Register(ctx context.Context, id, identity string) error {
	return redis.GetRedisInst().HSet(ctx, activeJobsKey, id, identity).Err()
}

func (RedisRegistry) Unregister(ctx context.Context, id string) error {
	return redis.GetRedisInst().HDel(ctx, activeJobsKey, id).Err()
}

func (RedisRegistry) ActiveDuplicate(ctx context.Context, id, identity string) (bool, error) {
	active, err := redis.GetRedisInst().HGetAll(ctx, activeJobsKey).Result()
	if err != nil {
		return false, err
	}
	for jobID, jobIdentity := range active {
		if jobID != id && jobIdentity == identity {
			return true, nil
		}
	}
	return false, nil
}

type RedisResults struct{}

func (RedisResults) Set(ctx context.Context, id, status string, result interface{}) error {
	data, err := json.Marshal(TaskState{Status: status, Result: result})
	if err != nil {
		return err
	}
	return redis.GetRedisInst().Set(ctx, resultKeyPrefix+id, string(data), resultTTL).Err()
}

func (RedisResults) Get(ctx context.Context, id string) (*TaskState, error) {
	data, err := redis.GetRedisInst().Get(ctx, resultKeyPrefix+id).Result()
	if err == goredis.Nil {
		return nil, errs.New(errs.KindNotFound, "no task with id %s", id)
	}
	if err != nil {
		return nil, err
	}
	var state TaskState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}
