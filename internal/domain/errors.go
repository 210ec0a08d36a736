package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPersistence   = errors.New("persistence error")
	ErrDelivery      = errors.New("delivery error")
	ErrBrokerForward = errors.New("broker forward error")
	ErrProtocol      = errors.New("protocol error")
)

// Stages recorded on durability-affecting errors.
const (
	StageAppend     = "append"
	StageHistory    = "history"
	StageDecode     = "decode"
	StageForward    = "forward"
	StagePublish    = "publish"
	StageDeadLetter = "dead_letter"
	StageCommit     = "commit"
)

// PersistenceError reports a failed log store operation.
type PersistenceError struct {
	Stage     string
	RoomCode  string
	MessageID string
	Err       error
}

func NewPersistenceError(stage, roomCode, messageID string, err error) *PersistenceError {
	return &PersistenceError{Stage: stage, RoomCode: roomCode, MessageID: messageID, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error (stage=%s room=%s): %v", e.Stage, e.RoomCode, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// DeliveryError reports a subscriber that could not be reached. It only
// affects that subscriber.
type DeliveryError struct {
	SessionID string
	RoomCode  string
	Reason    string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery error (session=%s room=%s): %s", e.SessionID, e.RoomCode, e.Reason)
}

func (e *DeliveryError) Unwrap() error { return ErrDelivery }

// BrokerForwardError reports a broker record that could not be forwarded.
type BrokerForwardError struct {
	Stage     string
	RoomCode  string
	MessageID string
	Partition int32
	Offset    int64
	Attempt   int
	Err       error
}

func (e *BrokerForwardError) Error() string {
	return fmt.Sprintf("broker forward error (stage=%s room=%s partition=%d offset=%d attempt=%d): %v",
		e.Stage, e.RoomCode, e.Partition, e.Offset, e.Attempt, e.Err)
}

func (e *BrokerForwardError) Unwrap() []error { return []error{ErrBrokerForward, e.Err} }

// ProtocolError reports a malformed client action. It has no side effects.
type ProtocolError struct {
	Reason string
}

func NewProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// ErrorCode maps an error to the code carried by an error frame.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrProtocol):
		return ErrCodeProtocol
	case errors.Is(err, ErrPersistence):
		return ErrCodePersistence
	default:
		return ErrCodeInternal
	}
}
