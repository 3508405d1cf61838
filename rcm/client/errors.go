package client

import "errors"

var (
	ErrInvalidState     = errors.New("rcm client: invalid state")
	ErrInvalidArg       = errors.New("rcm client: invalid argument")
	ErrMsgAllocFailed   = errors.New("rcm client: message allocation failed")
	ErrMsgQCreateFailed = errors.New("rcm client: message queue create failed")
	ErrMsgQOpenFailed   = errors.New("rcm client: message queue open failed")
	ErrServerNotFound   = errors.New("rcm client: server not found")
	ErrInvalidHeapID    = errors.New("rcm client: invalid heap id")
	ErrExecFailed       = errors.New("rcm client: exec failed")
	ErrIPC              = errors.New("rcm client: ipc error")
	ErrLostMessage      = errors.New("rcm client: lost message")
	ErrNotSupported     = errors.New("rcm client: not supported")

	// errors reported by the server

	ErrInvalidFxnIdx  = errors.New("rcm client: invalid function index")
	ErrSymbolNotFound = errors.New("rcm client: symbol not found")
	ErrJobIDNotFound  = errors.New("rcm client: job id not found")
	ErrMsgFxnError    = errors.New("rcm client: message function error")
	ErrServerError    = errors.New("rcm client: server error")
)
