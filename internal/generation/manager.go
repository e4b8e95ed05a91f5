package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/strategy"
)

const (
	defaultInstallTimeout     = 2 * time.Minute
	defaultInstallConcurrency = 4
)

// Options 描述 Manager 的依赖与安装参数。
type Options struct {
	Store   cache.Store
	Network strategy.Network
	Logger  *logrus.Logger
	// InstallTimeout 限制单次 Install 的总耗时，<=0 时使用 2 分钟。
	InstallTimeout time.Duration
	// InstallConcurrency 限制 Manifest 并发抓取数量，<=0 时使用 4。
	InstallConcurrency int
}

type generation struct {
	name    string
	state   State
	attempt uint64
	// inflight 统计租约、后台任务以及安装写入阶段，激活时据此等待排空。
	inflight sync.WaitGroup
	leases   atomic.Int64
}

// Manager 维护全部 Generation 的状态机以及当前路由目标。
type Manager struct {
	store       cache.Store
	network     strategy.Network
	logger      *logrus.Logger
	timeout     time.Duration
	concurrency int

	mu       sync.Mutex
	gens     map[string]*generation
	active   *generation
	barrier  chan struct{}
	attempts uint64
}

// NewManager 构造 Manager，Store 与 Network 均为必填。
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("generation manager requires a store")
	}
	if opts.Network == nil {
		return nil, errors.New("generation manager requires a network")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	timeout := opts.InstallTimeout
	if timeout <= 0 {
		timeout = defaultInstallTimeout
	}
	concurrency := opts.InstallConcurrency
	if concurrency <= 0 {
		concurrency = defaultInstallConcurrency
	}
	return &Manager{
		store:       opts.Store,
		network:     opts.Network,
		logger:      logger,
		timeout:     timeout,
		concurrency: concurrency,
		gens:        make(map[string]*generation),
	}, nil
}

// Install 抓取 manifest 中的每个 URL 并写入名为 version 的分区。
// 全部抓取成功后才开始写入；任一失败都会返回 ErrPrepopulationFailure。
// 失败时只删除本次安装新建的分区，安装前已存在的分区（例如上次进程留下的）保持不动。
// 安装期间若其他版本被激活，本次安装被放弃。重复安装同一版本总是重新抓取。
func (m *Manager) Install(ctx context.Context, version string, manifest []string) error {
	if err := cache.ValidatePartitionName(version); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	started := time.Now()
	g, attempt := m.beginInstall(version, m.partitionExists(ctx, version))
	fields := logging.GenerationFields("install", version)
	fields["manifest"] = len(manifest)

	entries, err := m.fetchManifest(ctx, manifest)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPrepopulationFailure, err)
		m.abandon(ctx, g, attempt, false)
		m.logger.WithFields(fields).WithError(err).Warn("install_failed")
		return err
	}

	if err := m.enterWrite(ctx, g, attempt.token); err != nil {
		err = fmt.Errorf("%w: %w", ErrPrepopulationFailure, err)
		m.abandon(ctx, g, attempt, false)
		m.logger.WithFields(fields).WithError(err).Warn("install_failed")
		return err
	}
	if err := m.writeEntries(ctx, version, entries); err != nil {
		err = fmt.Errorf("%w: %w", ErrPrepopulationFailure, err)
		m.abandon(ctx, g, attempt, true)
		m.logger.WithFields(fields).WithError(err).Warn("install_failed")
		return err
	}
	err = m.finishInstall(g, attempt.token)
	g.inflight.Done()
	if err != nil {
		m.logger.WithFields(fields).WithError(err).Warn("install_failed")
		return err
	}

	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	m.logger.WithFields(fields).Info("install_complete")
	return nil
}

// installAttempt 记录一次 Install 开始时的信息，失败时据此决定如何清理。
type installAttempt struct {
	token   uint64
	existed bool
	prev    State
}

// partitionExists 查询存储中是否已有该分区；查询失败时按已存在处理，
// 失败的安装因此不会删除无法确认归属的分区。
func (m *Manager) partitionExists(ctx context.Context, version string) bool {
	names, err := m.store.ListPartitions(ctx)
	if err != nil {
		return true
	}
	idx := sort.SearchStrings(names, version)
	return idx < len(names) && names[idx] == version
}

func (m *Manager) beginInstall(version string, existed bool) (*generation, installAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.gens[version]
	fresh := g == nil
	if fresh {
		g = &generation{name: version}
		m.gens[version] = g
	}
	attempt := installAttempt{existed: existed, prev: g.state}
	if fresh {
		attempt.prev = StateGone
	}
	if g != m.active {
		g.state = StateInstalling
	}
	m.attempts++
	g.attempt = m.attempts
	attempt.token = g.attempt
	return g, attempt
}

// enterWrite 等待激活屏障打开后登记写入阶段，保证写入与分区删除不会重叠。
// 等待期间其他版本完成激活时，本次安装已被标记为 Gone，不再写入。
func (m *Manager) enterWrite(ctx context.Context, g *generation, token uint64) error {
	for {
		m.mu.Lock()
		if m.barrier == nil {
			if g.attempt == token && g.state == StateGone {
				m.mu.Unlock()
				return fmt.Errorf("generation %s was retired during install", g.name)
			}
			if g != m.active {
				g.state = StateInstalling
			}
			g.inflight.Add(1)
			m.mu.Unlock()
			return nil
		}
		barrier := m.barrier
		m.mu.Unlock()

		select {
		case <-barrier:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) fetchManifest(ctx context.Context, manifest []string) ([]cache.Entry, error) {
	entries := make([]cache.Entry, len(manifest))
	p := pool.New().WithMaxGoroutines(m.concurrency).WithContext(ctx).WithCancelOnError()
	for i, raw := range manifest {
		p.Go(func(ctx context.Context) error {
			entry, err := m.fetchOne(ctx, raw)
			if err != nil {
				return err
			}
			entries[i] = *entry
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *Manager) fetchOne(ctx context.Context, raw string) (*cache.Entry, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("manifest entry %q: %w", raw, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("manifest entry %q must be an absolute URL", raw)
	}

	req := &strategy.Request{
		Method: http.MethodGet,
		URL:    u,
		Header: http.Header{"Cache-Control": []string{"no-cache"}},
	}
	resp, err := m.network.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", raw, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", raw, resp.Status)
	}

	entry := resp.Clone()
	entry.Key = req.Key().String()
	entry.Vary = cache.VarySnapshot(resp.Header, req.Header)
	entry.StoredAt = time.Now().UTC()
	return entry, nil
}

func (m *Manager) writeEntries(ctx context.Context, version string, entries []cache.Entry) error {
	if err := m.store.OpenPartition(ctx, version); err != nil {
		return fmt.Errorf("open partition %s: %w", version, err)
	}
	for _, entry := range entries {
		if err := m.store.Put(ctx, version, entry); err != nil {
			return fmt.Errorf("store %s: %w", entry.Key, err)
		}
	}
	return nil
}

func (m *Manager) finishInstall(g *generation, token uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g.attempt != token || g == m.active {
		return nil
	}
	if g.state != StateInstalling {
		return fmt.Errorf("%w: generation %s was retired during install", ErrPrepopulationFailure, g.name)
	}
	g.state = StateWaiting
	return nil
}

// abandon 放弃失败的安装：仅当本次尝试仍是最新且分区未激活时清理。
// 安装前已存在的分区被保留，Waiting 状态随之恢复；其余情况删除分区。
// 删除在持锁期间完成，避免与同版本后续安装的写入阶段交错。
func (m *Manager) abandon(ctx context.Context, g *generation, attempt installAttempt, holding bool) {
	m.mu.Lock()
	if g.attempt == attempt.token && g != m.active {
		// Gone 表示其他版本的激活已经删除了该分区。
		retired := g.state == StateGone
		g.state = StateGone
		switch {
		case retired:
		case attempt.existed:
			if attempt.prev == StateWaiting {
				g.state = StateWaiting
			}
		default:
			if err := m.store.DeletePartition(context.WithoutCancel(ctx), g.name); err != nil {
				m.logger.WithFields(logging.GenerationFields("install_cleanup", g.name)).
					WithError(err).Warn("partition_delete_failed")
			}
		}
	}
	m.mu.Unlock()

	if holding {
		g.inflight.Done()
	}
}

// Activate 将 version 设为唯一激活的 Generation：关闭路由屏障，
// 等待其他 Generation 的租约排空，删除存储中其他全部分区后再切换并打开屏障。
// 分区删除失败会被返回，但切换仍然生效。
func (m *Manager) Activate(ctx context.Context, version string) error {
	m.mu.Lock()
	target := m.gens[version]
	if target == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotInstalled, version)
	}
	if target.state != StateWaiting && target.state != StateActive {
		state := target.state
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotInstalled, version, state)
	}
	if m.barrier != nil {
		m.mu.Unlock()
		return ErrActivationInProgress
	}

	barrier := make(chan struct{})
	m.barrier = barrier
	previous := make(map[*generation]State, len(m.gens))
	others := make([]*generation, 0, len(m.gens))
	for _, g := range m.gens {
		previous[g] = g.state
		if g == target {
			continue
		}
		others = append(others, g)
		if g.state == StateActive || g.state == StateWaiting {
			g.state = StateRetiring
		}
	}
	target.state = StateActivating
	m.mu.Unlock()

	started := time.Now()
	if err := drain(ctx, others); err != nil {
		m.mu.Lock()
		for g, state := range previous {
			if g.state == StateRetiring || g == target {
				g.state = state
			}
		}
		m.barrier = nil
		close(barrier)
		m.mu.Unlock()
		return fmt.Errorf("activate %s: %w", version, err)
	}

	cleanup := context.WithoutCancel(ctx)
	var errs []error
	names, err := m.store.ListPartitions(cleanup)
	if err != nil {
		errs = append(errs, fmt.Errorf("list partitions: %w", err))
	}
	var deleted []string
	for _, name := range names {
		if name == version {
			continue
		}
		if err := m.store.DeletePartition(cleanup, name); err != nil {
			errs = append(errs, fmt.Errorf("delete partition %s: %w", name, err))
			continue
		}
		deleted = append(deleted, name)
	}

	m.mu.Lock()
	for _, g := range others {
		g.state = StateGone
	}
	target.state = StateActive
	m.active = target
	m.barrier = nil
	close(barrier)
	m.mu.Unlock()

	fields := logging.GenerationFields("activate", version)
	fields["deleted"] = deleted
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	joined := errors.Join(errs...)
	if joined != nil {
		m.logger.WithFields(fields).WithError(joined).Warn("activate_cleanup_failed")
		return joined
	}
	m.logger.WithFields(fields).Info("activate_complete")
	return nil
}

func drain(ctx context.Context, gens []*generation) error {
	for _, g := range gens {
		done := make(chan struct{})
		go func() {
			g.inflight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Acquire 返回当前激活 Generation 的租约；尚无激活分区时返回 nil。
// 激活进行中时会阻塞直到屏障打开或 ctx 结束。
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	for {
		m.mu.Lock()
		if m.barrier == nil {
			g := m.active
			if g == nil {
				m.mu.Unlock()
				return nil, nil
			}
			g.inflight.Add(1)
			g.leases.Add(1)
			m.mu.Unlock()
			return &Lease{store: m.store, gen: g}, nil
		}
		barrier := m.barrier
		m.mu.Unlock()

		select {
		case <-barrier:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Adopt 将存储中已存在的分区直接登记为激活状态而不重新抓取，
// 用于启动时网络不可用的场景。已有其他激活分区时返回错误。
func (m *Manager) Adopt(ctx context.Context, version string) error {
	names, err := m.store.ListPartitions(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	idx := sort.SearchStrings(names, version)
	if idx >= len(names) || names[idx] != version {
		return fmt.Errorf("%w: no stored partition %s", ErrNotInstalled, version)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.barrier != nil {
		return ErrActivationInProgress
	}
	if m.active != nil {
		if m.active.name == version {
			return nil
		}
		return fmt.Errorf("generation %s is already active", m.active.name)
	}
	g := m.gens[version]
	if g == nil {
		g = &generation{name: version}
		m.gens[version] = g
	}
	g.state = StateActive
	m.active = g

	m.logger.WithFields(logging.GenerationFields("adopt", version)).Info("generation_adopted")
	return nil
}

// Active 返回当前激活的版本号，尚无激活时为空。
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.name
}

// Snapshot 按版本号排序返回每个已知 Generation 的状态。
func (m *Manager) Snapshot() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.gens))
	for _, g := range m.gens {
		out = append(out, Status{Version: g.name, State: g.state, Leases: g.leases.Load()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}
