package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ExpiryTask is a deferred expiration for one reservation. A reservation
// holding seats in several scenarios keeps one task covering all of them.
type ExpiryTask struct {
	ReservationID string   `json:"reservation_id"`
	ScenarioIDs   []string `json:"scenario_ids"`
	DeadlineMs    int64    `json:"deadline_ms"`
}

func (t ExpiryTask) Deadline() time.Time {
	return time.UnixMilli(t.DeadlineMs).UTC()
}

// Scheduler stores expiry deadlines. ClaimDue hands each due task to exactly
// one caller, even with several pollers sharing the backend.
type Scheduler interface {
	Schedule(ctx context.Context, reservationID, scenarioID string, deadline time.Time) error
	Cancel(ctx context.Context, reservationID string) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]ExpiryTask, error)
}

const (
	defaultScheduleKey = "seatreserve:saga:expirations"
	defaultTasksKey    = "seatreserve:saga:tasks"
)

// Merges the scenario into the task and pushes the deadline forward, never back
var scheduleScript = redis.NewScript(`
-- KEYS[1] = deadline zset, KEYS[2] = task hash
-- ARGV[1] = reservation id, ARGV[2] = deadline (unix ms), ARGV[3] = scenario id
local raw = redis.call("HGET", KEYS[2], ARGV[1])
local task
if raw then
    task = cjson.decode(raw)
else
    task = {reservation_id = ARGV[1], scenario_ids = {}, deadline_ms = 0}
end

local deadline = tonumber(ARGV[2])
if deadline > tonumber(task.deadline_ms) then
    task.deadline_ms = deadline
end

local found = false
for _, id in ipairs(task.scenario_ids) do
    if id == ARGV[3] then
        found = true
    end
end
if not found then
    table.insert(task.scenario_ids, ARGV[3])
end

redis.call("HSET", KEYS[2], ARGV[1], cjson.encode(task))
redis.call("ZADD", KEYS[1], task.deadline_ms, ARGV[1])
return 1
`)

// Pops due tasks atomically so two pollers never fire the same one
var claimScript = redis.NewScript(`
-- KEYS[1] = deadline zset, KEYS[2] = task hash
-- ARGV[1] = now (unix ms), ARGV[2] = limit
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
    local raw = redis.call("HGET", KEYS[2], id)
    redis.call("ZREM", KEYS[1], id)
    redis.call("HDEL", KEYS[2], id)
    if raw then
        table.insert(out, raw)
    end
end
return out
`)

type RedisScheduler struct {
	redis       *redis.Client
	scheduleKey string
	tasksKey    string
}

func NewRedisScheduler(client *redis.Client) *RedisScheduler {
	return &RedisScheduler{
		redis:       client,
		scheduleKey: defaultScheduleKey,
		tasksKey:    defaultTasksKey,
	}
}

// PreloadScripts loads the Lua scripts so the first calls can use EVALSHA
func (s *RedisScheduler) PreloadScripts(ctx context.Context) error {
	if err := scheduleScript.Load(ctx, s.redis).Err(); err != nil {
		return fmt.Errorf("failed to load schedule script: %w", err)
	}
	if err := claimScript.Load(ctx, s.redis).Err(); err != nil {
		return fmt.Errorf("failed to load claim script: %w", err)
	}
	return nil
}

func (s *RedisScheduler) Schedule(ctx context.Context, reservationID, scenarioID string, deadline time.Time) error {
	keys := []string{s.scheduleKey, s.tasksKey}
	err := scheduleScript.Run(ctx, s.redis, keys, reservationID, strconv.FormatInt(deadline.UnixMilli(), 10), scenarioID).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule expiry: %w", err)
	}
	return nil
}

func (s *RedisScheduler) Cancel(ctx context.Context, reservationID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.scheduleKey, reservationID)
		pipe.HDel(ctx, s.tasksKey, reservationID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cancel expiry: %w", err)
	}
	return nil
}

func (s *RedisScheduler) ClaimDue(ctx context.Context, now time.Time, limit int) ([]ExpiryTask, error) {
	if limit <= 0 {
		limit = 100
	}
	keys := []string{s.scheduleKey, s.tasksKey}
	raw, err := claimScript.Run(ctx, s.redis, keys, strconv.FormatInt(now.UnixMilli(), 10), limit).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to claim due expiries: %w", err)
	}

	tasks := make([]ExpiryTask, 0, len(raw))
	for _, item := range raw {
		var task ExpiryTask
		if err := json.Unmarshal([]byte(item), &task); err != nil {
			return tasks, fmt.Errorf("failed to decode expiry task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// MemoryScheduler keeps deadlines in process, for single-instance deployments and tests
type MemoryScheduler struct {
	mu    sync.Mutex
	tasks map[string]*ExpiryTask
}

func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{tasks: make(map[string]*ExpiryTask)}
}

func (s *MemoryScheduler) Schedule(_ context.Context, reservationID, scenarioID string, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[reservationID]
	if !ok {
		task = &ExpiryTask{ReservationID: reservationID}
		s.tasks[reservationID] = task
	}
	if ms := deadline.UnixMilli(); ms > task.DeadlineMs {
		task.DeadlineMs = ms
	}
	for _, id := range task.ScenarioIDs {
		if id == scenarioID {
			return nil
		}
	}
	task.ScenarioIDs = append(task.ScenarioIDs, scenarioID)
	return nil
}

func (s *MemoryScheduler) Cancel(_ context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, reservationID)
	return nil
}

func (s *MemoryScheduler) ClaimDue(_ context.Context, now time.Time, limit int) ([]ExpiryTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]ExpiryTask, 0)
	for _, task := range s.tasks {
		if task.DeadlineMs <= now.UnixMilli() {
			due = append(due, *task)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DeadlineMs < due[j].DeadlineMs })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, task := range due {
		delete(s.tasks, task.ReservationID)
	}
	return due, nil
}

// Pending reports how many tasks are waiting
func (s *MemoryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
