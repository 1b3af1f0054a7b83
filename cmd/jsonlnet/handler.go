package main

import (
	"github.com/cyberinferno/go-jsonlnet/jsonrpc"
)

// handle answers one inbound message. Notifications and responses get no
// reply.
//
// Parameters:
//   - msg: The decoded message
//
// Returns:
//   - The reply and true, or false when msg needs no reply
func handle(msg jsonrpc.Message) (jsonrpc.Message, bool) {
	if !msg.IsRequest() {
		return jsonrpc.Message{}, false
	}

	var (
		resp jsonrpc.Message
		err  error
	)

	switch msg.Method {
	case "ping":
		resp, err = jsonrpc.NewResult(msg.ID, "pong")
	case "echo":
		if len(msg.Params) == 0 {
			resp, err = jsonrpc.NewResult(msg.ID, nil)
		} else {
			resp = jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: msg.ID, Result: msg.Params}
		}
	default:
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.CodeMethodNotFound, "method not found: "+msg.Method), true
	}

	if err != nil {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.CodeInternalError, err.Error()), true
	}

	return resp, true
}
