package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/benchline/internal/audit"
	"github.com/nerrad567/benchline/internal/board"
	"github.com/nerrad567/benchline/internal/infrastructure/mqtt"
)

// auditWriteTimeout bounds the audit insert done from the MQTT
// handler goroutine.
const auditWriteTimeout = 2 * time.Second

// CycleControl is the orchestrator surface remote commands drive.
// *sequence.Orchestrator satisfies it.
type CycleControl interface {
	StartCycle() (string, error)
	CancelCycle() error
	RetryBoard(row, col int) (string, error)
}

// CommandClient is the broker surface the listener needs.
// *mqtt.Client satisfies it.
type CommandClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// AuditSink records remote commands alongside the API's operator
// actions. audit.Repository satisfies it.
type AuditSink interface {
	Create(ctx context.Context, entry *audit.Entry) error
}

// CommandRequest is the payload a line controller sends on the
// command topics. RequestID is echoed in the ack so the controller
// can match responses; Row and Col apply to retry only.
type CommandRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Row       int    `json:"row,omitempty"`
	Col       int    `json:"col,omitempty"`
}

// CommandAck is the response published after each command.
type CommandAck struct {
	RequestID string    `json:"request_id,omitempty"`
	Command   string    `json:"command"`
	OK        bool      `json:"ok"`
	CycleID   string    `json:"cycle_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ListenerOptions wires a CommandListener.
type ListenerOptions struct {
	Client  CommandClient
	Topics  mqtt.Topics
	Station string
	Control CycleControl

	// Audit is optional; remote commands are recorded with source
	// "mqtt" when set.
	Audit AuditSink

	QoS    byte
	Logger Logger
}

// CommandListener executes start, cancel and retry commands received
// over MQTT and publishes an ack for each. It exists for line
// controllers that drive several stations without speaking HTTP.
//
// Command topics are {prefix}/command/{station}/start, .../cancel and
// .../retry; every ack goes to .../ack.
type CommandListener struct {
	client  CommandClient
	topics  mqtt.Topics
	station string
	control CycleControl
	audit   AuditSink
	qos     byte
	logger  Logger
}

// NewCommandListener validates opts and returns a listener. Call
// Start to subscribe.
func NewCommandListener(opts ListenerOptions) (*CommandListener, error) {
	if opts.Client == nil {
		return nil, errors.New("telemetry: command client is required")
	}
	if opts.Control == nil {
		return nil, errors.New("telemetry: cycle control is required")
	}
	if opts.Station == "" {
		return nil, errors.New("telemetry: station name is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &CommandListener{
		client:  opts.Client,
		topics:  opts.Topics,
		station: opts.Station,
		control: opts.Control,
		audit:   opts.Audit,
		qos:     opts.QoS,
		logger:  logger,
	}, nil
}

// Start subscribes to the station's command topics. The subscription
// is tracked by the client and restored after reconnects.
func (l *CommandListener) Start() error {
	return l.client.Subscribe(l.topics.AllCommands(l.station), l.qos, l.handle)
}

// Close drops the command subscription.
func (l *CommandListener) Close() error {
	return l.client.Unsubscribe(l.topics.AllCommands(l.station))
}

// handle dispatches one command message. The verb is the last topic
// segment; our own acks flow back through the wildcard and are
// ignored.
func (l *CommandListener) handle(topic string, payload []byte) error {
	verb := topic[strings.LastIndexByte(topic, '/')+1:]
	if verb == "ack" {
		return nil
	}

	var req CommandRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			l.ack(CommandAck{Command: verb, Error: "invalid payload"})
			return fmt.Errorf("command payload: %w", err)
		}
	}

	ack := CommandAck{RequestID: req.RequestID, Command: verb}
	switch verb {
	case "start":
		id, err := l.control.StartCycle()
		if err != nil {
			ack.Error = err.Error()
			break
		}
		ack.OK = true
		ack.CycleID = id
		l.record(audit.ActionCycleStart, audit.EntityCycle, id, map[string]any{"request_id": req.RequestID})

	case "cancel":
		if err := l.control.CancelCycle(); err != nil {
			ack.Error = err.Error()
			break
		}
		ack.OK = true
		l.record(audit.ActionCycleCancel, audit.EntityCycle, "", map[string]any{"request_id": req.RequestID})

	case "retry":
		id, err := l.control.RetryBoard(req.Row, req.Col)
		if err != nil {
			ack.Error = err.Error()
			break
		}
		ack.OK = true
		ack.CycleID = id
		cell := board.Position{Row: req.Row, Col: req.Col}.CellID()
		l.record(audit.ActionBoardRetry, audit.EntityBoard, cell, map[string]any{
			"request_id": req.RequestID,
			"row":        req.Row,
			"col":        req.Col,
			"cycle_id":   id,
		})

	default:
		ack.Error = "unknown command"
	}

	if ack.OK {
		l.logger.Info("remote command accepted", "command", verb, "cycle_id", ack.CycleID)
	} else {
		l.logger.Warn("remote command rejected", "command", verb, "error", ack.Error)
	}
	l.ack(ack)
	return nil
}

// ack publishes the command response. Failures are logged only; the
// command itself has already run.
func (l *CommandListener) ack(a CommandAck) {
	a.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := l.client.Publish(l.topics.CommandAck(l.station), payload, l.qos, false); err != nil {
		if !errors.Is(err, mqtt.ErrNotConnected) {
			l.logger.Warn("command ack publish failed", "command", a.Command, "error", err)
		}
	}
}

// record writes the audit entry for an accepted command. Best-effort:
// a failed write is logged, never surfaced to the requester.
func (l *CommandListener) record(action, entityType, entityID string, details map[string]any) {
	if l.audit == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	entry := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     audit.SourceMQTT,
		Details:    details,
	}
	if err := l.audit.Create(ctx, entry); err != nil {
		l.logger.Error("audit write failed", "action", action, "error", err)
	}
}
