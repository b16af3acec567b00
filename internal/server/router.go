package server

import (
	"github.com/muurk/sensorhub/internal/logging"
	"github.com/muurk/sensorhub/internal/protocol"
	"go.uber.org/zap"
)

// MessageHandler receives every recognized inbound message. It runs on the
// sending session's read loop, so messages from one display unit arrive in
// order; it must not block for long.
type MessageHandler func(category protocol.Category, msg protocol.Message)

// Router dispatches decoded messages by their declared type.
type Router struct {
	handler MessageHandler
}

// NewRouter creates a router forwarding to handler (which may be nil)
func NewRouter(handler MessageHandler) *Router {
	return &Router{handler: handler}
}

// Dispatch routes msg and returns the category it was classified as.
// Unknown types are logged and dropped without a reply.
func (r *Router) Dispatch(sess *Session, msg protocol.Message) protocol.Category {
	category := protocol.ParseCategory(msg.Type())
	clientID := sess.ID()

	switch category {
	case protocol.CategorySensorData:
		logging.Debug("Sensor data received",
			zap.String("client_id", clientID),
			zap.String("data_type", fieldOr(msg, "data_type")),
		)
	case protocol.CategoryEngineState:
		logging.Debug("Engine state received",
			zap.String("client_id", clientID),
			zap.String("state", fieldOr(msg, "state")),
		)
	case protocol.CategoryPowerState:
		logging.Debug("Power state received",
			zap.String("client_id", clientID),
			zap.String("state", fieldOr(msg, "state")),
		)
	case protocol.CategoryHeartbeat:
		logging.Debug("Heartbeat received",
			zap.String("client_id", clientID),
		)
	case protocol.CategoryCommand:
		logging.Info("Command received",
			zap.String("client_id", clientID),
			zap.String("command", fieldOr(msg, "command")),
		)
	case protocol.CategoryResponse:
		logging.Debug("Response received",
			zap.String("client_id", clientID),
			zap.String("response_type", fieldOr(msg, "response_type")),
		)
	case protocol.CategoryStatus:
		logging.Debug("Status received",
			zap.String("client_id", clientID),
			zap.String("status", fieldOr(msg, "status")),
		)
	case protocol.CategoryAlert:
		logging.Warn("Alert received",
			zap.String("client_id", clientID),
			zap.String("alert_type", fieldOr(msg, "alert_type")),
			zap.String("message", fieldOr(msg, protocol.FieldMessage)),
		)
	case protocol.CategoryUnknown:
		logging.Warn("Unknown message type",
			zap.String("client_id", clientID),
			zap.String("type", msg.Type()),
		)
		return category
	}

	if r.handler != nil {
		r.handler(category, msg)
	}
	return category
}

func fieldOr(msg protocol.Message, key string) string {
	if v, ok := msg.StringField(key); ok {
		return v
	}
	return "unknown"
}
