package iceconn

// StateChangeFunc is called after write_state, receiving or nomination
// changes and Connection has finished updating the fields that motivated
// the change.
type StateChangeFunc func(c *Connection)

// NominatedFunc is called the first time this pair becomes nominated,
// from either role's perspective.
type NominatedFunc func(c *Connection)

// ReadyToSendFunc is called when the underlying socket signals it can
// accept writes again after a previous short write / EWOULDBLOCK.
type ReadyToSendFunc func(c *Connection)

// DestroyedFunc is called exactly once, as the very last event a
// Connection's observers will receive from it.
type DestroyedFunc func(c *Connection)

// eventPublisher is a small typed pub/sub used by Connection to fan out
// its four signals. Subscriber lists are snapshotted before dispatch so a
// callback that subscribes or unsubscribes during dispatch does not race
// with, or skip entries in, the in-progress iteration.
type eventPublisher struct {
	stateChange []StateChangeFunc
	nominated   []NominatedFunc
	readyToSend []ReadyToSendFunc
	destroyed   []DestroyedFunc
}

func (p *eventPublisher) onStateChange(f StateChangeFunc) {
	p.stateChange = append(p.stateChange, f)
}

func (p *eventPublisher) onNominated(f NominatedFunc) {
	p.nominated = append(p.nominated, f)
}

func (p *eventPublisher) onReadyToSend(f ReadyToSendFunc) {
	p.readyToSend = append(p.readyToSend, f)
}

func (p *eventPublisher) onDestroyed(f DestroyedFunc) {
	p.destroyed = append(p.destroyed, f)
}

func (p *eventPublisher) fireStateChange(c *Connection) {
	subs := append([]StateChangeFunc(nil), p.stateChange...)
	for _, f := range subs {
		f(c)
	}
}

func (p *eventPublisher) fireNominated(c *Connection) {
	subs := append([]NominatedFunc(nil), p.nominated...)
	for _, f := range subs {
		f(c)
	}
}

func (p *eventPublisher) fireReadyToSend(c *Connection) {
	subs := append([]ReadyToSendFunc(nil), p.readyToSend...)
	for _, f := range subs {
		f(c)
	}
}

func (p *eventPublisher) fireDestroyed(c *Connection) {
	subs := append([]DestroyedFunc(nil), p.destroyed...)
	for _, f := range subs {
		f(c)
	}
}
