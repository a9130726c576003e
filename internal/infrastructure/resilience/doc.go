/*
Package resilience provides the circuit breaker guarding the host link.

When a remote host stops answering, the link client would otherwise block
every spawn and terminate for a full request timeout. The breaker opens
after repeated failures so calls fail fast with ErrOpen, lets a probe
through once the cooldown passes, and closes again when probes succeed.

	Closed --[Trip]--> Open --[Cooldown]--> Half-Open --[Probes ok]--> Closed
	                                            |
	                                        [failure]
	                                            v
	                                          Open

Usage:

	b := resilience.New("link", resilience.Settings{
		Cooldown: 5 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Breaker state changed", zap.Stringer("to", to))
		},
	})
	err := b.Do(func() error {
		return conn.WriteMessage(websocket.BinaryMessage, frame)
	})
*/
package resilience
