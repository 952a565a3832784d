package msgnet

// Handler receives connection events from a Server.
// Callbacks run inline on the server's accept and poll loops and must not
// block for long. A panicking callback is recovered and logged; if it was
// OnClientConnected or OnClientMessage, that connection is disconnected.
type Handler interface {
	// OnClientConnected is called from the accept loop after a connection is tracked.
	OnClientConnected(conn *ClientConnection)
	// OnClientDisconnected is called from the poll loop after a dead connection is removed.
	OnClientDisconnected(conn *ClientConnection)
	// OnClientMessage is called from the poll loop when the connection's queue
	// is not empty. The handler is expected to drain messages.
	OnClientMessage(conn *ClientConnection, messages *Queue)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped,
// except that a nil Message discards the queued messages.
type HandlerFuncs struct {
	Connected    func(conn *ClientConnection)
	Disconnected func(conn *ClientConnection)
	Message      func(conn *ClientConnection, messages *Queue)
}

func (h HandlerFuncs) OnClientConnected(conn *ClientConnection) {
	if h.Connected != nil {
		h.Connected(conn)
	}
}

func (h HandlerFuncs) OnClientDisconnected(conn *ClientConnection) {
	if h.Disconnected != nil {
		h.Disconnected(conn)
	}
}

func (h HandlerFuncs) OnClientMessage(conn *ClientConnection, messages *Queue) {
	if h.Message == nil {
		messages.Clear()
		return
	}
	h.Message(conn, messages)
}
