package storage

import (
	"errors"

	"qmpie/internal/chat"
)

// ErrNotFound is returned when an archived record does not exist.
var ErrNotFound = errors.New("record not found")

// Store 终端侧归档接口：最终问卷与对话记录
// Store is the client-side archive of final questionnaires and transcripts.
type Store interface {
	// 交付物 / Deliverables
	SaveDeliverable(d Deliverable) (int64, error)
	GetDeliverable(id int64) (Deliverable, error)
	ListDeliverables(limit int) ([]Deliverable, error)
	DeleteDeliverable(id int64) error

	// 对话记录 / Transcript
	AppendTurn(sessionID string, turn chat.Turn) error
	LoadTurns(sessionID string) ([]chat.Turn, error)

	// 生命周期 / Lifecycle
	Close() error
}
