// Package brokerclient is the Go client for a meshbroker node.
//
// Conn speaks the JSON envelope protocol over a TLS WebSocket to a node's
// clients port: it reads the welcome frame, correlates acknowledgments to
// requests by transaction id and hands pushed deliveries to the caller on a
// channel.
//
// AdminClient calls the node's admin HTTP API with a bearer token.
//
//	conn, err := brokerclient.Dial(ctx, brokerclient.Config{
//		Address:   "localhost:12000",
//		TLSConfig: tlsConfig,
//	})
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	if _, err := conn.Subscribe(ctx, "news"); err != nil {
//		return err
//	}
//	for msg := range conn.Messages() {
//		fmt.Println(msg.Action, msg.Params["payload"])
//	}
package brokerclient
