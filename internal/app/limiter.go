package app

const heavySlots = 2

// runHeavy runs long jobs (broadcast, backup, restore) at most heavySlots at
// a time.
func (a *App) runHeavy(name string, fn func()) {
	a.safeGo(name, func() {
		select {
		case a.heavy <- struct{}{}:
		case <-a.ctx.Done():
			return
		}
		defer func() { <-a.heavy }()
		fn()
	})
}
