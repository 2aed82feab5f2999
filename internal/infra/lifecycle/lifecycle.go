// Package lifecycle — запуск и остановка фоновых служб приложения.
//
// Узлы стартуют в порядке регистрации, но не раньше своих зависимостей, и
// гасятся строго в обратном фактическому запуску порядке. Каждый узел получает
// собственный дочерний контекст корня: при остановке он отменяется до вызова Stop.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"telegram-smsbot/internal/infra/logger"

	"go.uber.org/zap"
)

// State — состояние узла.
type State string

const (
	StateRegistered State = "registered"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// Node — управляемая служба.
type Node struct {
	Name string
	// Deps — узлы, которые должны работать до старта этого.
	Deps []string
	// Start не должен блокироваться: долгую работу он запускает в горутине на ctx.
	Start func(ctx context.Context) error
	// Stop вызывается после отмены контекста узла.
	Stop func() error
}

type entry struct {
	node   Node
	state  State
	err    error
	cancel context.CancelFunc
}

// NodeState — снимок состояния для диагностики.
type NodeState struct {
	Name  string
	State State
	Err   error
}

// Manager — набор узлов. Потокобезопасен.
type Manager struct {
	root context.Context

	mu      sync.Mutex
	order   []string
	entries map[string]*entry
	started []string
}

// New создаёт менеджер; контексты узлов наследуются от root.
func New(root context.Context) *Manager {
	if root == nil {
		root = context.Background()
	}
	return &Manager{root: root, entries: make(map[string]*entry)}
}

// Register добавляет узел.
func (m *Manager) Register(n Node) error {
	if n.Name == "" {
		return errors.New("lifecycle: empty node name")
	}
	if slices.Contains(n.Deps, n.Name) {
		return fmt.Errorf("lifecycle: node %q depends on itself", n.Name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[n.Name]; ok {
		return fmt.Errorf("lifecycle: node %q already registered", n.Name)
	}
	m.entries[n.Name] = &entry{node: n, state: StateRegistered}
	m.order = append(m.order, n.Name)
	return nil
}

// StartAll запускает все узлы. При первой ошибке уже запущенные узлы
// останавливаются, а ошибка возвращается.
func (m *Manager) StartAll() error {
	m.mu.Lock()
	order := slices.Clone(m.order)
	m.mu.Unlock()

	for _, name := range order {
		if err := m.start(name); err != nil {
			logger.Error("service start failed", zap.String("service", name), zap.Error(err))
			if stopErr := m.Shutdown(); stopErr != nil {
				err = errors.Join(err, stopErr)
			}
			return err
		}
	}
	logger.Debug("services started", zap.Strings("order", m.startOrder()))
	return nil
}

func (m *Manager) start(name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: unknown node %q", name)
	}
	switch e.state {
	case StateRunning:
		m.mu.Unlock()
		return nil
	case StateStarting:
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: dependency cycle at %q", name)
	}
	e.state = StateStarting
	m.mu.Unlock()

	for _, dep := range e.node.Deps {
		if err := m.start(dep); err != nil {
			m.fail(e, err)
			return fmt.Errorf("lifecycle: %s: %w", name, err)
		}
	}

	logger.Debug("starting service", zap.String("service", name))
	ctx, cancel := context.WithCancel(m.root)
	if e.node.Start != nil {
		if err := e.node.Start(ctx); err != nil {
			cancel()
			m.fail(e, err)
			return fmt.Errorf("lifecycle: start %s: %w", name, err)
		}
	}

	m.mu.Lock()
	e.state = StateRunning
	e.err = nil
	e.cancel = cancel
	m.started = append(m.started, name)
	m.mu.Unlock()
	logger.Debug("service started", zap.String("service", name))
	return nil
}

// Shutdown останавливает запущенные узлы в обратном порядке. Повторный вызов безопасен.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	started := m.started
	m.started = nil
	m.mu.Unlock()

	var errs error
	for _, name := range slices.Backward(started) {
		if err := m.stop(name); err != nil {
			errs = errors.Join(errs, fmt.Errorf("lifecycle: stop %s: %w", name, err))
		}
	}
	return errs
}

func (m *Manager) stop(name string) error {
	m.mu.Lock()
	e := m.entries[name]
	cancel, stopFn := e.cancel, e.node.Stop
	m.mu.Unlock()

	logger.Debug("stopping service", zap.String("service", name))
	if cancel != nil {
		cancel()
	}
	var err error
	if stopFn != nil {
		err = stopFn()
	}

	m.mu.Lock()
	e.cancel = nil
	if err != nil {
		e.state, e.err = StateFailed, err
	} else {
		e.state = StateStopped
	}
	m.mu.Unlock()

	if err != nil {
		logger.Error("service stopped with error", zap.String("service", name), zap.Error(err))
	} else {
		logger.Debug("service stopped", zap.String("service", name))
	}
	return err
}

func (m *Manager) fail(e *entry, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.state, e.err = StateFailed, err
}

func (m *Manager) startOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.started)
}

// States возвращает состояния узлов в порядке регистрации.
func (m *Manager) States() []NodeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NodeState, 0, len(m.order))
	for _, name := range m.order {
		e := m.entries[name]
		out = append(out, NodeState{Name: name, State: e.state, Err: e.err})
	}
	return out
}
