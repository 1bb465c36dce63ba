package discovery

// Discovery abstracts how peer gossip addresses are obtained for the group
// join handshake.
type Discovery interface {
	Seeds() []string
}
