package broker

// handlerFunc handles one inbound envelope for connection c. Returned errors
// are classified by the router; they never close the connection.
type handlerFunc func(c *connection, env envelope) error

// Strategy is a matchmaking strategy. Exactly one is selected at startup and
// shares the broker's registry and router.
type Strategy interface {
	// Name is the strategy's configuration name ("queue" or "room").
	Name() string

	attach(b *Broker)
	routes() map[string]handlerFunc
	connected(c *connection)
	// disconnected must remove every reference to c from the strategy's
	// structures before returning.
	disconnected(c *connection)
	stats(s *Stats)
}
