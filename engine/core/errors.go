package core

import (
	"errors"
	"fmt"
)

var (
	ErrComputePipelineStateFailed = errors.New("compute pipeline state creation failed")
	ErrRenderPipelineStateFailed  = errors.New("render pipeline state creation failed")
	ErrLibraryBuildFailure        = errors.New("library build failure")
	ErrFunctionNotFound           = errors.New("function not found in library")
	ErrUnsupportedTransition      = errors.New("unsupported image layout transition")
	ErrDeviceLost                 = errors.New("device lost")
	ErrSubmissionFailed           = errors.New("queue submission failed")
	ErrDescriptorPoolExhausted    = errors.New("descriptor pool exhausted")
	ErrNoDevice                   = errors.New("no suitable device found")
	ErrUnknownDriver              = errors.New("unknown driver")
)

// Fatalf reports an unrecoverable condition: a caller/shader mismatch or a
// driver state the runtime cannot continue from. It logs and panics so that
// the stack of the offending call is preserved.
func Fatalf(msg string, args ...interface{}) {
	err := fmt.Errorf(msg, args...)
	LogError("%s", err.Error())
	panic(err)
}

// Precondition panics with the formatted message when cond is false.
func Precondition(cond bool, msg string, args ...interface{}) {
	if !cond {
		Fatalf("precondition failed: "+msg, args...)
	}
}
