// Package timing provides the delay source lent to display controllers
// during their power-on handshake.
package timing

import "time"

// Source blocks the caller for at least d.
type Source interface {
	Sleep(d time.Duration)
}

// System sleeps on the runtime timer. On TinyGo this is the processor's
// system tick timer.
var System Source = systemSource{}

type systemSource struct{}

func (systemSource) Sleep(d time.Duration) { time.Sleep(d) }

// Func adapts a function to Source.
type Func func(d time.Duration)

func (f Func) Sleep(d time.Duration) { f(d) }
