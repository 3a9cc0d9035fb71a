package domain

import "errors"

var (
	ErrPermissionDenied     = errors.New("permission denied")
	ErrRationaleNeeded      = errors.New("permission rationale needed")
	ErrInitTimeout          = errors.New("initialization timeout")
	ErrResourceInit         = errors.New("resource initialization failed")
	ErrStreamStartRejected  = errors.New("stream start rejected")
	ErrViewNotFound         = errors.New("view not found")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrAudioUnavailable     = errors.New("audio unavailable")
	ErrAlreadyStreaming     = errors.New("already streaming")
	ErrStartCancelled       = errors.New("streaming stopped before start")
	ErrReleased             = errors.New("view released")
	ErrLayoutNotReady       = errors.New("view has no layout yet")
	ErrCameraUnavailable    = errors.New("camera unavailable")
	ErrUnknownCommand       = errors.New("unknown command")
)
