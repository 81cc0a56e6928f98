package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gendonholaholo/shopscrap/internal/metrics"
	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

// Conn is the write side of one worker connection.
type Conn interface {
	Send(v any) error
	Close() error
}

// Config carries the manager's tunables.
type Config struct {
	TaskTimeout      time.Duration
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
}

type workerConn struct {
	info scraper.ExtensionInfo
	conn Conn
}

type taskOutcome struct {
	data map[string]any
	err  error
}

type pendingTask struct {
	ch          chan taskOutcome
	extensionID string
	taskType    scraper.TaskType
}

// Manager implements scraper.Requester over a registry of connected
// extension workers. Each dispatched task gets a one-shot result channel;
// the socket read loop resolves it when the matching task_result or
// task_error arrives.
type Manager struct {
	clock  scraper.Clock
	ids    scraper.IDGenerator
	logger *zap.Logger
	cfg    Config

	mu         sync.Mutex
	workers    map[string]*workerConn
	pending    map[string]*pendingTask
	progressFn func(taskID string, progress int)
}

// NewManager constructs a Manager.
func NewManager(clock scraper.Clock, ids scraper.IDGenerator, logger *zap.Logger, cfg Config) *Manager {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskWait
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = HeartbeatTimeout
	}
	return &Manager{
		clock:   clock,
		ids:     ids,
		logger:  logger,
		cfg:     cfg,
		workers: make(map[string]*workerConn),
		pending: make(map[string]*pendingTask),
	}
}

// SetProgressHandler installs the callback invoked for progress messages.
func (m *Manager) SetProgressHandler(fn func(taskID string, progress int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progressFn = fn
}

// Register adds or replaces a worker connection and acknowledges it. A
// re-register with the same id displaces the previous socket.
func (m *Manager) Register(extensionID, userAgent, version string, conn Conn) error {
	now := m.clock.Now()
	m.mu.Lock()
	prev, existed := m.workers[extensionID]
	m.workers[extensionID] = &workerConn{
		info: scraper.ExtensionInfo{
			ExtensionID:   extensionID,
			UserAgent:     userAgent,
			Version:       version,
			ConnectedAt:   now,
			LastHeartbeat: now,
		},
		conn: conn,
	}
	m.mu.Unlock()

	if existed {
		_ = prev.conn.Close()
		m.logger.Info("extension reconnected", zap.String("extension_id", extensionID))
	} else {
		metrics.ExtensionConnected(1)
		m.logger.Info("extension registered",
			zap.String("extension_id", extensionID),
			zap.String("version", version))
	}

	ack, err := Enclose(MsgRegistered, RegisteredPayload{Status: "ok", ServerVersion: ProtocolVersion})
	if err != nil {
		return err
	}
	return conn.Send(ack)
}

// Unregister drops a worker and fails every outstanding task, since a task
// whose worker vanished can never resolve.
func (m *Manager) Unregister(extensionID string) {
	m.unregister(extensionID, nil)
}

// UnregisterConn drops a worker only while conn is still its registered
// connection. A displaced socket's deferred teardown is a no-op once a
// replacement has registered under the same id.
func (m *Manager) UnregisterConn(extensionID string, conn Conn) {
	m.unregister(extensionID, conn)
}

func (m *Manager) unregister(extensionID string, conn Conn) {
	m.mu.Lock()
	w, existed := m.workers[extensionID]
	if !existed || (conn != nil && w.conn != conn) {
		m.mu.Unlock()
		return
	}
	delete(m.workers, extensionID)
	var orphaned []*pendingTask
	for id, task := range m.pending {
		orphaned = append(orphaned, task)
		delete(m.pending, id)
	}
	m.mu.Unlock()

	metrics.ExtensionConnected(-1)
	for _, task := range orphaned {
		task.ch <- taskOutcome{err: scraper.ErrWorkerDisconnected}
	}
	m.logger.Info("extension unregistered",
		zap.String("extension_id", extensionID),
		zap.Int("failed_tasks", len(orphaned)))
}

// Available reports whether any worker is connected.
func (m *Manager) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers) > 0
}

// Connections returns a snapshot of connected workers.
func (m *Manager) Connections() []scraper.ExtensionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]scraper.ExtensionInfo, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.info)
	}
	return out
}

// Dispatch assigns a task id, registers its result slot, and pushes the task
// to a worker. extensionID selects a specific worker; empty picks any.
func (m *Manager) Dispatch(ctx context.Context, task scraper.TaskType, params map[string]any, extensionID string) (string, error) {
	taskID, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	msg, err := Enclose(MsgTask, TaskPayload{TaskID: taskID, TaskType: task, Params: params})
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	var target *workerConn
	if extensionID != "" {
		target = m.workers[extensionID]
	} else {
		for _, w := range m.workers {
			target = w
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return "", scraper.ErrNoWorkerAvailable
	}
	m.pending[taskID] = &pendingTask{
		ch:          make(chan taskOutcome, 1),
		extensionID: target.info.ExtensionID,
		taskType:    task,
	}
	m.mu.Unlock()

	if err := target.conn.Send(msg); err != nil {
		m.mu.Lock()
		delete(m.pending, taskID)
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %v", scraper.ErrWorkerDisconnected, err)
	}

	metrics.TaskDispatched(string(task))
	m.logger.Info("task dispatched",
		zap.String("task_id", taskID),
		zap.String("task_type", string(task)),
		zap.String("extension_id", target.info.ExtensionID))
	return taskID, nil
}

// WaitForResult blocks until the task resolves, the timeout elapses, or ctx
// is cancelled. The task's result slot is released on every exit path.
func (m *Manager) WaitForResult(ctx context.Context, taskID string, timeout time.Duration) (map[string]any, error) {
	if timeout <= 0 {
		timeout = m.cfg.TaskTimeout
	}

	m.mu.Lock()
	task, ok := m.pending[taskID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", scraper.ErrUnknownTask, taskID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case outcome := <-task.ch:
		return outcome.data, outcome.err
	case <-timer.C:
		m.abandon(taskID)
		return nil, fmt.Errorf("%w: %s after %s", scraper.ErrTaskTimeout, taskID, timeout)
	case <-ctx.Done():
		m.abandon(taskID)
		return nil, fmt.Errorf("wait for task %s: %w", taskID, ctx.Err())
	}
}

// CancelTask tells the owning worker to abandon a task and releases its slot.
func (m *Manager) CancelTask(taskID string) {
	m.mu.Lock()
	task, ok := m.pending[taskID]
	var conn Conn
	if ok {
		delete(m.pending, taskID)
		if w := m.workers[task.extensionID]; w != nil {
			conn = w.conn
		}
	}
	m.mu.Unlock()
	if conn != nil {
		if msg, err := Enclose(MsgCancelTask, CancelTaskPayload{TaskID: taskID}); err == nil {
			_ = conn.Send(msg)
		}
	}
}

// abandon releases a task slot and notifies the worker, so a late result
// for it is dropped instead of resolving a stale waiter.
func (m *Manager) abandon(taskID string) {
	m.CancelTask(taskID)
}

// resolve delivers an outcome to the task's waiter exactly once.
func (m *Manager) resolve(taskID string, outcome taskOutcome) {
	m.mu.Lock()
	task, ok := m.pending[taskID]
	if ok {
		delete(m.pending, taskID)
	}
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("result for unknown task dropped", zap.String("task_id", taskID))
		return
	}
	task.ch <- outcome
}

// HandleMessage routes one decoded socket frame from a registered worker.
func (m *Manager) HandleMessage(extensionID string, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode message envelope: %w", err)
	}

	switch env.Type {
	case MsgHeartbeat:
		return m.handleHeartbeat(extensionID)

	case MsgTaskResult:
		var p TaskResultPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode task_result: %w", err)
		}
		m.resolve(p.TaskID, taskOutcome{data: p.RawData})
		return nil

	case MsgTaskError:
		var p TaskErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode task_error: %w", err)
		}
		m.resolve(p.TaskID, taskOutcome{err: fmt.Errorf("extension task failed: %s", p.Error)})
		return nil

	case MsgProgress:
		var p ProgressPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode progress: %w", err)
		}
		m.mu.Lock()
		fn := m.progressFn
		m.mu.Unlock()
		if fn != nil {
			fn(p.TaskID, p.Percent)
		}
		return nil

	default:
		return fmt.Errorf("unknown message type %q", env.Type)
	}
}

func (m *Manager) handleHeartbeat(extensionID string) error {
	now := m.clock.Now()
	m.mu.Lock()
	w, ok := m.workers[extensionID]
	if ok {
		w.info.LastHeartbeat = now
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("heartbeat from unregistered extension %s", extensionID)
	}
	pong, err := Enclose(MsgPong, PongPayload{})
	if err != nil {
		return err
	}
	return w.conn.Send(pong)
}

// Run sweeps for workers whose heartbeat went stale until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *Manager) evictStale() {
	cutoff := m.clock.Now().Add(-m.cfg.HeartbeatTimeout)
	m.mu.Lock()
	var stale []*workerConn
	for _, w := range m.workers {
		if w.info.LastHeartbeat.Before(cutoff) {
			stale = append(stale, w)
		}
	}
	m.mu.Unlock()

	for _, w := range stale {
		m.logger.Warn("extension heartbeat stale, evicting",
			zap.String("extension_id", w.info.ExtensionID),
			zap.Time("last_heartbeat", w.info.LastHeartbeat))
		_ = w.conn.Close()
		m.unregister(w.info.ExtensionID, w.conn)
	}
}
