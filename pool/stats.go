package pool

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	Name      string `json:"name"`
	Size      int    `json:"size"`
	Idle      int    `json:"idle"`
	InUse     int    `json:"in_use"`
	Waiting   int    `json:"waiting"`
	Min       int    `json:"min"`
	Max       int    `json:"max"`
	Acquired  int64  `json:"acquired"`
	Created   int64  `json:"created"`
	Destroyed int64  `json:"destroyed"`
	Timeouts  int64  `json:"timeouts"`
	Closed    bool   `json:"closed"`
}

// Stats returns current pool statistics. Size counts creations in flight.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Name:      p.cfg.Name,
		Size:      p.size,
		Idle:      len(p.idle),
		InUse:     p.size - len(p.idle),
		Waiting:   len(p.waiters),
		Min:       p.cfg.Min,
		Max:       p.cfg.Max,
		Acquired:  p.stats.acquired,
		Created:   p.stats.created,
		Destroyed: p.stats.destroyed,
		Timeouts:  p.stats.timeouts,
		Closed:    p.closed,
	}
}
