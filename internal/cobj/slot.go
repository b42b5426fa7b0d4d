package cobj

import (
	"fmt"

	"forge/internal/cache"
)

// PreprocessorMode selects how the child clang invocation's stdout is handled.
type PreprocessorMode int

const (
	PreprocessorOff PreprocessorMode = iota
	PreprocessorFile
	PreprocessorStdout
)

// Status is the C-object slot's state machine (component E): a plain
// sum type rather than a cluster of booleans, per the design note that
// status transitions should be modeled explicitly.
type Status int

const (
	StatusNew Status = iota
	StatusSuccess
	StatusFailure
)

// Slot owns one C/C++ input's compilation status across incremental
// updates. Success implies ObjectPath exists on disk inside a cache
// directory whose manifest digest matches Lock; Failure implies
// Message is populated with a lifetime equal to the slot's.
type Slot struct {
	SrcPath    string
	ExtraFlags []string

	Status     Status
	ObjectPath string
	Lock       *cache.Lock
	Message    string
}

// NewSlot creates a slot in the New state for one C source input.
func NewSlot(srcPath string, extraFlags []string) *Slot {
	return &Slot{SrcPath: srcPath, ExtraFlags: extraFlags, Status: StatusNew}
}

// Clear idempotently releases any resources held by a Success or
// Failure slot and resets it to New.
func (s *Slot) Clear() {
	switch s.Status {
	case StatusSuccess:
		s.Lock.Release()
		s.Lock = nil
		s.ObjectPath = ""
	case StatusFailure:
		s.Message = ""
	}
	s.Status = StatusNew
}

func (s *Slot) setSuccess(objectPath string, lock *cache.Lock) {
	s.Status = StatusSuccess
	s.ObjectPath = objectPath
	s.Lock = lock
}

func (s *Slot) setFailure(format string, args ...any) {
	s.Status = StatusFailure
	s.Message = fmt.Sprintf(format, args...)
}
