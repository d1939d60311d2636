package thread

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linanwx/edgeagent/config"
	"github.com/linanwx/edgeagent/logger"
	"github.com/linanwx/edgeagent/scheduler"
	"github.com/linanwx/edgeagent/toolcache"
	"github.com/linanwx/edgeagent/tools"
)

// transientMarkers mark tool errors worth retrying.
var transientMarkers = []string{"timeout", "network", "connection", "unavailable"}

// Executor runs the tool calls of one model response: planned into
// batches, batches in order, calls of a batch concurrently.
type Executor struct {
	tools   *tools.Registry
	cache   *toolcache.Cache
	planner *scheduler.Planner

	maxParallel int
	toolTimeout time.Duration
	maxRetries  int
	retryBase   time.Duration
}

// NewExecutor creates an executor. A nil cache disables caching.
func NewExecutor(reg *tools.Registry, cache *toolcache.Cache, planner *scheduler.Planner, ex config.ExecutionConfig) *Executor {
	if planner == nil {
		planner = scheduler.ForRegistry(reg)
	}
	return &Executor{
		tools:       reg,
		cache:       cache,
		planner:     planner,
		maxParallel: ex.MaxParallelTools,
		toolTimeout: ex.ToolTimeout(),
		maxRetries:  ex.MaxRetries,
		retryBase:   ex.RetryBaseDelay(),
	}
}

// Execute runs calls and returns their results in input order. onDone is
// invoked once per call as soon as it finishes, possibly concurrently.
// A failing call never stops its siblings or later batches.
func (e *Executor) Execute(ctx context.Context, calls []tools.Call, onDone func(tools.Result)) []tools.Result {
	results := make([]tools.Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	// Input positions per call in order, so calls sharing an ID still get
	// distinct result slots.
	slots := make(map[string][]int, len(calls))
	for i, c := range calls {
		k := slotKey(c)
		slots[k] = append(slots[k], i)
	}

	plan := e.planner.Plan(calls)
	if err := plan.Validate(calls); err != nil {
		logger.Error("invalid tool plan", "err", err)
	}
	logger.Debug("tool plan", "calls", plan.TotalCalls, "batches", len(plan.Batches))

	for bi, batch := range plan.Batches {
		g := new(errgroup.Group)
		if e.maxParallel > 0 {
			g.SetLimit(e.maxParallel)
		}
		for _, c := range batch.Calls {
			k := slotKey(c)
			pending := slots[k]
			if len(pending) == 0 {
				continue
			}
			i := pending[0]
			slots[k] = pending[1:]
			g.Go(func() error {
				res := e.run(ctx, c)
				results[i] = res
				if onDone != nil {
					onDone(res)
				}
				return nil
			})
		}
		_ = g.Wait()
		logger.Debug("tool batch done", "batch", bi, "size", len(batch.Calls), "priority", batch.Priority, "degraded", batch.Degraded)
	}
	return results
}

func slotKey(c tools.Call) string {
	return c.ID + "\x00" + c.Name
}

func (e *Executor) run(ctx context.Context, call tools.Call) tools.Result {
	start := time.Now()
	cacheable := e.cache != nil && e.tools.Cacheable(call.Name)

	if cacheable {
		if out, ok := e.cache.Get(call); ok {
			logger.Debug("tool cache hit", "tool", call.Name, "callID", call.ID)
			return tools.Result{Call: call, Output: out, Cached: true, Duration: time.Since(start)}
		}
	}

	res := tools.Result{Call: call}
	for attempt := 0; ; attempt++ {
		res.Attempts = attempt + 1
		res.Output, res.Err = e.attempt(ctx, call, res.Attempts)
		if res.Err == nil || attempt >= e.maxRetries || !isTransient(ctx, res.Err) {
			break
		}
		delay := e.retryBase * time.Duration(1<<attempt)
		logger.Warn("tool call failed, retrying", "tool", call.Name, "callID", call.ID, "attempt", res.Attempts, "delay", delay, "err", res.Err)
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			res.Duration = time.Since(start)
			return res
		case <-time.After(delay):
		}
	}
	res.Duration = time.Since(start)

	if res.Err != nil {
		logger.Error("tool error", "tool", call.Name, "callID", call.ID, "attempts", res.Attempts, "err", res.Err)
		return res
	}
	if !res.Output.Success {
		return res
	}
	if cacheable {
		e.cache.Insert(call, res.Output)
	}
	if e.cache != nil {
		for _, name := range e.tools.Invalidates(call.Name) {
			if n := e.cache.Invalidate(name); n > 0 {
				logger.Debug("tool cache invalidated", "by", call.Name, "tool", name, "entries", n)
			}
		}
	}
	return res
}

func (e *Executor) attempt(ctx context.Context, call tools.Call, n int) (tools.Output, error) {
	callCtx := ctx
	if e.toolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.toolTimeout)
		defer cancel()
	}
	cc := tools.CallContextFrom(ctx)
	cc.CallID = call.ID
	cc.Attempt = n
	callCtx = tools.WithCallContext(callCtx, cc)
	return e.tools.Execute(callCtx, call.Name, call.Arguments)
}

// isTransient reports whether err may go away on retry. Cancellation of
// the turn itself never qualifies.
func isTransient(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, tools.ErrUnknownTool) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
