// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package dbqueue implements an asynchronous, WAL-backed database task
// queue that separates game logic from database I/O, grounded on
// original_source/Server/TestServer/src/DBTaskQueue.cpp.
package dbqueue

// TaskType identifies which handler processes a Task.
type TaskType int

const (
	RecordConnectTime TaskType = iota
	RecordDisconnectTime
	UpdatePlayerData
	Custom
)

func (t TaskType) String() string {
	switch t {
	case RecordConnectTime:
		return "RecordConnectTime"
	case RecordDisconnectTime:
		return "RecordDisconnectTime"
	case UpdatePlayerData:
		return "UpdatePlayerData"
	case Custom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// Callback reports a task's outcome; optional, not replayed across crashes
// (the WAL carries only the task payload, not the closure).
type Callback func(success bool, result string)

// SessionID mirrors session.ConnectionID without importing the session
// package, keeping dbqueue usable standalone.
type SessionID uint64

// Task is one unit of deferred database work.
type Task struct {
	Type      TaskType
	SessionID SessionID
	Data      string
	Callback  Callback

	// walSeq is 0 for a freshly submitted task; EnqueueTask assigns it the
	// first time the task is WAL-written, and recovered tasks are re-queued
	// with walSeq reset to 0 so they receive a fresh sequence number.
	walSeq uint64
}
