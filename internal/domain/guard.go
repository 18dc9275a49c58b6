package domain

// Guard is a scoped non-reentrancy flag wrapping fund-moving operations.
// The host executes operations one at a time, so this is not a mutex; it
// only stops an operation's own external effects from re-entering the
// entity before its bookkeeping is done.
//
//	if err := g.Enter(); err != nil {
//		return err
//	}
//	defer g.Exit()
type Guard struct {
	busy bool
}

// Enter marks the guarded section busy, failing with ErrReentrantCall if
// it already is.
func (g *Guard) Enter() error {
	if g.busy {
		return ErrReentrantCall
	}
	g.busy = true
	return nil
}

// Exit releases the guard. Call via defer so every exit path, including
// error returns, releases it.
func (g *Guard) Exit() {
	g.busy = false
}
