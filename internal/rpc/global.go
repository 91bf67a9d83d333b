package rpc

import "sync/atomic"

// The process-wide server reference lets leaf components (the tool
// dispatcher) push progress without threading the server through every
// call. It is written once at init and safe for concurrent readers;
// SetGlobal after the first call is a no-op.
var globalServer atomic.Pointer[Server]

// SetGlobal installs the running server. Only the first call wins.
func SetGlobal(s *Server) bool {
	return globalServer.CompareAndSwap(nil, s)
}

// Global returns the running server, or nil before init.
func Global() *Server {
	return globalServer.Load()
}

// NotifyGlobal posts a notification through the global server when one is
// installed; otherwise it is a no-op.
func NotifyGlobal(method string, params any) {
	if s := globalServer.Load(); s != nil {
		s.Notify(method, params)
	}
}
