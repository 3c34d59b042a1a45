package event

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// flagTTL outlives the listen timeout so entries expire on their own.
const flagTTL = ListenTimeout + time.Minute

// FlagStore is the process-wide keyed state for stop flags and task owners.
// Entries carry a TTL of at least the listen timeout; cleanup is implicit.
type FlagStore struct {
	rdb *redis.Client
}

// NewFlagStore wraps a redis client.
func NewFlagStore(rdb *redis.Client) *FlagStore {
	return &FlagStore{rdb: rdb}
}

func stopKey(taskID string) string  { return "surveyor:stopflag:" + taskID }
func ownerKey(taskID string) string { return "surveyor:taskowner:" + taskID }

// RegisterTask records the owner of a task so only that user can stop it.
func (f *FlagStore) RegisterTask(ctx context.Context, taskID, userID string) error {
	return f.rdb.Set(ctx, ownerKey(taskID), "user-"+userID, flagTTL).Err()
}

// SetStopFlag trips the cooperative cancellation flag for a task. It only
// succeeds when the stored owner equals "user-{userID}".
func (f *FlagStore) SetStopFlag(ctx context.Context, taskID, invokeFrom, userID string) error {
	owner, err := f.rdb.Get(ctx, ownerKey(taskID)).Result()
	if err == redis.Nil {
		return fmt.Errorf("task %s has no registered owner", taskID)
	}
	if err != nil {
		return fmt.Errorf("get task owner: %w", err)
	}
	if owner != "user-"+userID {
		return fmt.Errorf("task %s is not owned by user %s", taskID, userID)
	}
	return f.rdb.Set(ctx, stopKey(taskID), invokeFrom, flagTTL).Err()
}

// IsStopped reports whether the stop flag is set. Errors read as not-stopped
// so a flaky redis never wedges a healthy stream.
func (f *FlagStore) IsStopped(ctx context.Context, taskID string) bool {
	n, err := f.rdb.Exists(ctx, stopKey(taskID)).Result()
	return err == nil && n > 0
}

// ClearTask removes the flag and owner entries eagerly; TTL covers the rest.
func (f *FlagStore) ClearTask(ctx context.Context, taskID string) {
	f.rdb.Del(ctx, stopKey(taskID), ownerKey(taskID))
}
