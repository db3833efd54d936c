package gateway

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/relaymesh/gateway/internal/config"
	"github.com/relaymesh/gateway/internal/metrics"
)

// MessageType identifies a coordinator↔worker control message.
type MessageType string

const (
	MsgInit            MessageType = "INIT"
	MsgConfigUpdate    MessageType = "CONFIG_UPDATE"
	MsgMetricsRequest  MessageType = "METRICS_REQUEST"
	MsgMetricsResponse MessageType = "METRICS_RESPONSE"
	MsgHealthCheck     MessageType = "HEALTH_CHECK"
	MsgShutdown        MessageType = "SHUTDOWN"
)

// ipcSeq provides the monotonic message timestamp. A counter rather than a
// clock: it can never run backwards between messages.
var ipcSeq atomic.Int64

// Message is one control message between the coordinator and a worker.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewMessage creates a message with the next monotonic timestamp.
func NewMessage(t MessageType, payload any) (Message, error) {
	m := Message{Type: t, Timestamp: ipcSeq.Add(1)}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		m.Payload = raw
	}
	return m, nil
}

// DecodeConfig extracts the gateway config from an INIT or CONFIG_UPDATE message.
func (m Message) DecodeConfig() (*config.Config, error) {
	if m.Type != MsgInit && m.Type != MsgConfigUpdate {
		return nil, fmt.Errorf("message %s carries no config", m.Type)
	}
	var cfg config.Config
	if err := json.Unmarshal(m.Payload, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DecodeMetrics extracts the summary from a METRICS_RESPONSE message.
func (m Message) DecodeMetrics() (*metrics.Summary, error) {
	if m.Type != MsgMetricsResponse {
		return nil, fmt.Errorf("message %s carries no metrics", m.Type)
	}
	var s metrics.Summary
	if err := json.Unmarshal(m.Payload, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// HandleIPC answers a control message against this server. METRICS_REQUEST
// and HEALTH_CHECK are answered inline; any other type returns an error.
func (s *Server) HandleIPC(m Message) (Message, error) {
	switch m.Type {
	case MsgMetricsRequest:
		return NewMessage(MsgMetricsResponse, s.agg.Summary())
	case MsgHealthCheck:
		return NewMessage(MsgHealthCheck, s.checker.Results())
	default:
		return Message{}, fmt.Errorf("unhandled message type %s", m.Type)
	}
}
