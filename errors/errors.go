package errors

import "fmt"

var (
	ErrWorkerPanic   = fmt.Errorf("worker panic")
	ErrIdentityEmpty = fmt.Errorf("username cannot be empty")
	ErrIdentityTaken = fmt.Errorf("username already taken")
	ErrChannelClosed = fmt.Errorf("session channel closed")
	ErrNotConnected  = fmt.Errorf("not connected to broker")
)
