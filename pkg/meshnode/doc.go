// Package meshnode provides the contract of a broker node.
//
// A node accepts end-user clients on one TLS WebSocket listener and peer
// nodes on another. Every node keeps a registry of:
//   - the sessions to its peers, accepted or dialed
//   - the clients attached to it and the clients its peers reported
//   - the subscriptions of all those clients
//
// Starting a node:
//
//	node, err := meshnode.NewNode(config, opts...)
//	if err != nil {
//		return err
//	}
//	if err := node.Start(ctx); err != nil {
//		return err
//	}
//	defer node.Stop(context.Background())
//
// A node started with IsNode set dials the configured remote node once
// its own listeners are bound. The peer answers with its clients, its
// subscriptions and the list of other sessions to dial, so the newcomer
// ends up linked to every node of the mesh.
//
// Monitoring:
//
//	health, err := node.GetHealth(ctx)
//	if err != nil {
//		return err
//	}
//	if !health.Healthy {
//		log.Printf("node unhealthy: %s", health.Message)
//	}
package meshnode
