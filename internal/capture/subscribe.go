package capture

// Subscribe returns a channel receiving each entry as it is added, plus a
// cancel func. Delivery is lossy: a subscriber that falls more than the
// buffer behind misses entries rather than stalling the proxy path.
func (s *Store) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, 100)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				close(c)
				break
			}
		}
	}
	return ch, cancel
}

func (s *Store) broadcast(e Entry) {
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
