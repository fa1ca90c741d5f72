package ledger

import (
	"time"
	"unicode/utf8"
)

// StateKind 单个店铺维度的同步状态
type StateKind string

const (
	KindNotSynced StateKind = "not_synced"
	KindSynced    StateKind = "synced"
	KindFailed    StateKind = "failed"
)

// MaxErrorLength 持久化错误信息的最大长度
const MaxErrorLength = 500

// SyncState (实体, 店铺) 的显式同步状态
//   - NotSynced
//   - Synced{RemoteID, Handle}
//   - Failed{Error, AttemptedAt}
type SyncState struct {
	Kind        StateKind  `json:"kind"`
	RemoteID    string     `json:"remoteId,omitempty"`
	Handle      string     `json:"handle,omitempty"`
	Error       string     `json:"error,omitempty"`
	AttemptedAt *time.Time `json:"attemptedAt,omitempty"`
}

func NotSynced() SyncState {
	return SyncState{Kind: KindNotSynced}
}

func Synced(remoteID, handle string) SyncState {
	return SyncState{Kind: KindSynced, RemoteID: remoteID, Handle: handle}
}

func Failed(errMsg string, at time.Time) SyncState {
	at = at.UTC()
	return SyncState{Kind: KindFailed, Error: TruncateError(errMsg, MaxErrorLength), AttemptedAt: &at}
}

func (s SyncState) IsSynced() bool { return s.Kind == KindSynced }
func (s SyncState) IsFailed() bool { return s.Kind == KindFailed }

// Status 旧版 syncStatuses 列使用的字符串
func (s SyncState) Status() string {
	if s.Kind == "" {
		return string(KindNotSynced)
	}
	return string(s.Kind)
}

// StateOf 读取店铺状态，缺省为 NotSynced
func StateOf(m Map[SyncState], storeID int64) SyncState {
	if s, ok := m.Get(storeID); ok {
		return s
	}
	return NotSynced()
}

// TruncateError 按 rune 截断错误信息
func TruncateError(msg string, max int) string {
	if max <= 0 || utf8.RuneCountInString(msg) <= max {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:max-3]) + "..."
}
