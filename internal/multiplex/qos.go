package multiplex

import (
	"math"
	"sync/atomic"

	"github.com/juju/ratelimit"
)

// Valve throttles and counts the bytes a connection moves. rx is what the
// receive loop reads from the transport, tx what the send loop writes. A Valve
// may be shared by several connections to cap their combined rate.
type Valve struct {
	rxtb atomic.Pointer[ratelimit.Bucket]
	txtb atomic.Pointer[ratelimit.Bucket]

	rx atomic.Int64
	tx atomic.Int64
}

// MakeValve takes rates in bytes per second
func MakeValve(rxRate, txRate int64) *Valve {
	v := &Valve{}
	v.SetRxRate(rxRate)
	v.SetTxRate(txRate)
	return v
}

func UnlimitedValve() *Valve { return MakeValve(math.MaxInt64, math.MaxInt64) }

func (v *Valve) SetRxRate(rate int64) { v.rxtb.Store(ratelimit.NewBucketWithRate(float64(rate), rate)) }
func (v *Valve) SetTxRate(rate int64) { v.txtb.Store(ratelimit.NewBucketWithRate(float64(rate), rate)) }

// rxWait and txWait block until n bytes may pass, then count them
func (v *Valve) rxWait(n int) {
	v.rxtb.Load().Wait(int64(n))
	v.rx.Add(int64(n))
}

func (v *Valve) txWait(n int) {
	v.txtb.Load().Wait(int64(n))
	v.tx.Add(int64(n))
}

func (v *Valve) GetRx() int64 { return v.rx.Load() }
func (v *Valve) GetTx() int64 { return v.tx.Load() }

// Nullify resets both counters and returns what they held
func (v *Valve) Nullify() (int64, int64) {
	return v.rx.Swap(0), v.tx.Swap(0)
}
