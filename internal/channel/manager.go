package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/memohai/assistbot/internal/worker"
)

// InboundProcessor handles one inbound message. Replies go through sender.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage, sender ReplySender) error
}

// InboundProcessorFunc adapts a function to InboundProcessor.
type InboundProcessorFunc func(ctx context.Context, cfg ChannelConfig, msg InboundMessage, sender ReplySender) error

// HandleInbound calls f.
func (f InboundProcessorFunc) HandleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage, sender ReplySender) error {
	return f(ctx, cfg, msg, sender)
}

// ConnectionStatus describes runtime status for the channel connection.
type ConnectionStatus struct {
	ConfigID    string      `json:"config_id"`
	ChannelType ChannelType `json:"channel_type"`
	Running     bool        `json:"running"`
	LastError   string      `json:"last_error,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ManagerOptions bounds inbound processing.
type ManagerOptions struct {
	// Workers is the number of inbound messages processed at once across users.
	Workers int
	// QueueSize is the number of messages a user may have waiting.
	QueueSize int
}

type inboundTask struct {
	cfg ChannelConfig
	msg InboundMessage
}

// Manager connects one adapter and dispatches inbound messages to the
// processor. Messages from the same user are processed in arrival order;
// different users run concurrently.
type Manager struct {
	adapter   Adapter
	config    ChannelConfig
	processor InboundProcessor
	logger    *slog.Logger
	inbound   *worker.Dispatcher[string, inboundTask]

	mu     sync.Mutex
	conn   Connection
	status ConnectionStatus
}

// NewManager creates a Manager for adapter using cfg as its credentials.
func NewManager(log *slog.Logger, adapter Adapter, cfg ChannelConfig, processor InboundProcessor, opts ManagerOptions) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ChannelType == "" && adapter != nil {
		cfg.ChannelType = adapter.Type()
	}
	m := &Manager{
		adapter:   adapter,
		config:    cfg,
		processor: processor,
		logger:    log.With(slog.String("component", "channel")),
		status: ConnectionStatus{
			ConfigID:    cfg.ID,
			ChannelType: cfg.ChannelType,
		},
	}
	m.inbound = worker.NewDispatcher[string, inboundTask](m.logger, opts.Workers, opts.QueueSize, m.process)
	return m
}

// Start connects the adapter and begins receiving messages.
func (m *Manager) Start(ctx context.Context) error {
	receiver, ok := m.adapter.(Receiver)
	if !ok {
		err := fmt.Errorf("channel %s cannot receive messages", m.config.ChannelType)
		m.markStatus(false, err)
		return err
	}
	m.logger.Info("manager start", slog.String("channel", m.config.ChannelType.String()))
	conn, err := receiver.Connect(ctx, m.config, m.HandleInbound)
	if err != nil {
		m.markStatus(false, err)
		return fmt.Errorf("connect %s: %w", m.config.ChannelType, err)
	}
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.markStatus(true, nil)
	return nil
}

// HandleInbound queues msg behind earlier messages from the same user and
// returns without waiting. A message from a user whose queue is full is
// dropped.
func (m *Manager) HandleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error {
	key := msg.UserKey()
	if key == "" {
		return errors.New("inbound message has no sender or chat")
	}
	err := m.inbound.Dispatch(ctx, key, inboundTask{cfg: cfg, msg: msg})
	if errors.Is(err, worker.ErrQueueFull) {
		m.logger.Warn("inbound dropped, user queue full",
			slog.String("user_key", key),
			slog.String("message_id", msg.ID),
		)
	}
	if err != nil {
		return fmt.Errorf("dispatch inbound: %w", err)
	}
	return nil
}

func (m *Manager) process(ctx context.Context, task inboundTask) {
	if notifier, ok := m.adapter.(ProcessingStatusNotifier); ok {
		if err := notifier.ProcessingStarted(ctx, task.cfg, task.msg); err != nil {
			m.logger.Debug("processing status failed", slog.Any("error", err))
		}
	}
	sender := &replySender{manager: m, cfg: task.cfg, target: task.msg.ChatID}
	if err := m.processor.HandleInbound(ctx, task.cfg, task.msg, sender); err != nil {
		m.logger.Error("inbound processing failed",
			slog.String("chat_id", task.msg.ChatID),
			slog.String("message_id", task.msg.ID),
			slog.Any("error", err),
		)
	}
}

// Send delivers an outbound message through the adapter.
func (m *Manager) Send(ctx context.Context, msg OutboundMessage) error {
	return m.send(ctx, m.config, msg)
}

func (m *Manager) send(ctx context.Context, cfg ChannelConfig, msg OutboundMessage) error {
	sender, ok := m.adapter.(Sender)
	if !ok {
		return fmt.Errorf("channel %s cannot send messages", cfg.ChannelType)
	}
	if msg.IsEmpty() {
		return errors.New("message is required")
	}
	if err := sender.Send(ctx, cfg, msg); err != nil {
		m.logger.Error("send outbound failed", slog.String("target", msg.Target), slog.Any("error", err))
		return err
	}
	return nil
}

// Status returns the observed connection status.
func (m *Manager) Status() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := m.status
	if m.conn != nil && status.Running {
		status.Running = m.conn.Running()
	}
	return status
}

func (m *Manager) markStatus(running bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Running = running
	m.status.LastError = ""
	if err != nil {
		m.status.LastError = err.Error()
	}
	m.status.UpdatedAt = time.Now().UTC()
}

// Shutdown stops the connection and waits for queued messages to finish
// until ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	if conn != nil {
		g.Go(func() error {
			if err := conn.Stop(gctx); err != nil && !errors.Is(err, ErrStopNotSupported) {
				return fmt.Errorf("stop connection: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return m.inbound.Close(ctx)
	})
	err := g.Wait()
	m.markStatus(false, nil)
	m.logger.Info("manager stop")
	return err
}

type replySender struct {
	manager *Manager
	cfg     ChannelConfig
	target  string
}

func (s *replySender) Send(ctx context.Context, msg OutboundMessage) error {
	if msg.Target == "" {
		msg.Target = s.target
	}
	return s.manager.send(ctx, s.cfg, msg)
}
