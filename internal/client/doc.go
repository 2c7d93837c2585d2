// Package client is the chatsync SDK: a REST client for the gateway API,
// an event channel with automatic reconnect, and a synchronizer that keeps
// local conversation views converged with the server.
//
// # Design
//
// The store behind the gateway is the single source of truth. Sending a
// message is a REST call; the view is only updated with the stored
// authoritative copy the gateway returns. The websocket channel is a
// fire-and-forget notification stream: duplicates are dropped by message ID,
// out-of-order delivery is absorbed by timestamp-ordered insertion, and
// after every reconnect the synchronizer refetches the latest history
// window of each open conversation to close any gap.
//
// # Usage
//
//	rest := client.NewREST("http://localhost:8080", token)
//	ch := client.NewChannel(client.DefaultChannelConfig("ws://localhost:8080/ws", token))
//	sync := client.NewSynchronizer(rest, ch, logger)
//	sync.OnUpdate(func(conversationID string) { /* re-render */ })
//
//	if err := ch.Connect(ctx); err != nil { ... }
//	conv, err := rest.CreateConversation(ctx, "bob")
//	if err := sync.Open(ctx, conv.ID); err != nil { ... }
//	msg, err := sync.Send(ctx, conv.ID, "hello")
package client
