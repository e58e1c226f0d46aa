package ecnic

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ecatlink/ecatlink/ecfr"
	"github.com/ecatlink/ecatlink/ectime"
)

// OutFrame transmits the buffer at idx over one path. The slot is marked Tx
// so the correlator files the returning frame; a failed send rolls the slot
// back to Empty and reports the device error unretried.
func (p *Port) OutFrame(idx uint8, path Path) error {
	st := p.stackFor(path)

	p.mu.Lock()
	lp := st.txlen[idx]
	st.rxstat[idx] = BufTx
	p.mu.Unlock()

	err := st.dev.Send(st.txbuf[idx][:lp])
	if err != nil {
		p.mu.Lock()
		st.rxstat[idx] = BufEmpty
		p.mu.Unlock()
		return fmt.Errorf("ecnic: send idx %d: %w", idx, err)
	}
	return nil
}

// OutFrameRed transmits idx over the primary path and, when a secondary
// path exists, sends the dummy frame carrying the same index over it. The
// buffer's source word is retagged per path so receivers can tell which
// wire a frame actually traveled. Failures of the two paths are independent
// and reported together.
func (p *Port) OutFrameRed(idx uint8) error {
	var result *multierror.Error

	p.mu.Lock()
	ecfr.SetSourceWord(p.txbuf[idx][:], ecfr.PrimarySourceWord)
	p.mu.Unlock()

	result = multierror.Append(result, p.OutFrame(idx, Primary))

	p.mu.Lock()
	red := p.red
	if p.redstate != redNone {
		ecfr.PokeIndex(p.txbuf2[ecfr.ETHHeaderLen:], idx)
		ecfr.SetSourceWord(p.txbuf2[:], ecfr.SecondarySourceWord)
		red.rxstat[idx] = BufTx
	}
	p.mu.Unlock()

	if red != nil {
		err := red.stack.dev.Send(p.txbuf2[:p.txlen2])
		if err != nil {
			p.mu.Lock()
			red.rxstat[idx] = BufEmpty
			p.mu.Unlock()
			result = multierror.Append(result, fmt.Errorf("ecnic: secondary send idx %d: %w", idx, err))
		}
	}

	return result.ErrorOrNil()
}

// recvPkt pulls one frame off the path's wire into the scratch buffer.
// Reports whether anything arrived. Caller holds the port lock.
func (p *Port) recvPkt(st *stack) bool {
	n, err := st.dev.Recv(st.tmpbuf[:])
	if err != nil {
		p.Log.WithError(err).Debug("receive failed")
		return false
	}
	*st.tmplen = n
	return n > 0
}

// InFrame is the non-blocking receive and correlation step. If the slot for
// idx was already filed by an earlier poll it is consumed without touching
// the wire. Otherwise one frame is read: noise of a foreign ethertype is
// discarded, an early arrival for another pending index is shelved in that
// index's slot, and a frame matching idx completes the slot. The return
// value is the reply working counter on a match, or NoFrame/OtherFrame.
func (p *Port) InFrame(idx uint8, path Path) int {
	rval := NoFrame
	st := p.stackFor(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	if idx < MaxBuf && st.rxstat[idx] == BufRcvd {
		// filed earlier by a poll for another index
		if wkc, ok := ecfr.TrailingWorkCounter(st.rxbuf[idx][:]); ok {
			st.rxstat[idx] = BufComplete
			return int(wkc)
		}
		return rval
	}

	if !p.recvPkt(st) {
		return rval
	}
	rval = OtherFrame

	tmp := st.tmpbuf[:*st.tmplen]
	if len(tmp) < ecfr.ETHHeaderLen || ecfr.EtherType(tmp) != ecfr.EtherTypeECAT {
		// wire noise, not ours
		return rval
	}

	ecat := tmp[ecfr.ETHHeaderLen:]
	idxf, ok := ecfr.PeekIndex(ecat)
	if !ok {
		return rval
	}

	switch {
	case idxf == idx:
		n := copy(st.rxbuf[idx][:], ecat)
		if wkc, ok := ecfr.TrailingWorkCounter(st.rxbuf[idx][:n]); ok {
			rval = int(wkc)
			st.rxstat[idx] = BufComplete
			st.rxsa[idx] = ecfr.SourceWord(tmp)
		}

	case idxf < MaxBuf && (st.rxstat[idxf] == BufAlloc || st.rxstat[idxf] == BufTx):
		// someone is waiting for it, shelve until they poll
		copy(st.rxbuf[idxf][:], ecat)
		st.rxstat[idxf] = BufRcvd
		st.rxsa[idxf] = ecfr.SourceWord(tmp)

	default:
		// strange things happen: an index nobody is waiting for
		p.Log.WithField("index", idxf).Debug("dropping orphaned frame")
	}

	return rval
}

// waitInFrameRed polls for idx until the timer expires. Without redundancy
// it is a plain spin on the primary path. With redundancy it waits for both
// paths, then walks the decision tree over the recorded source words: a
// cross-over (primary answer surfacing on the secondary socket or vice
// versa) is accepted as completing the primary slot, and a dead primary
// link is compensated by pushing the frame out over the secondary wire once
// more.
func (p *Port) waitInFrameRed(idx uint8, timer ectime.Timer) int {
	wkc := NoFrame
	wkc2 := NoFrame

	// without a secondary path there is nothing to wait for on it
	if p.redstate == redNone {
		wkc2 = 0
	}

	for {
		if wkc <= NoFrame {
			wkc = p.InFrame(idx, Primary)
		}
		if p.redstate != redNone && wkc2 <= NoFrame {
			wkc2 = p.InFrame(idx, Secondary)
		}
		if (wkc > NoFrame && wkc2 > NoFrame) || timer.Expired() {
			break
		}
	}

	if p.redstate == redNone {
		return wkc
	}

	var primrx, secrx uint16
	if wkc > NoFrame {
		primrx = p.rxsa[idx]
	}
	if wkc2 > NoFrame {
		secrx = p.red.rxsa[idx]
	}

	// both frames crossed over: the normal pattern with an intact ring
	if primrx == ecfr.SecondarySourceWord && secrx == ecfr.PrimarySourceWord {
		p.acceptSecondary(idx)
		wkc = wkc2
	}

	// the primary answer is missing or never left the primary segment,
	// while the secondary wire still carries traffic: retransmit there and
	// take its answer
	if (primrx == 0 && secrx == ecfr.SecondarySourceWord) ||
		(primrx == ecfr.PrimarySourceWord && secrx == ecfr.SecondarySourceWord) {
		if primrx == ecfr.PrimarySourceWord && secrx == ecfr.SecondarySourceWord {
			// partial rings on both sides: forward what the primary
			// collected so the retransmission traverses the remaining
			// slaves
			p.mu.Lock()
			copy(p.txbuf[idx][ecfr.ETHHeaderLen:], p.rxbuf[idx][:p.txlen[idx]-ecfr.ETHHeaderLen])
			p.mu.Unlock()
		}

		timer2 := ectime.StartTimerOn(p.Clock, TimeoutRetUs*time.Microsecond)
		if err := p.OutFrame(idx, Secondary); err != nil {
			p.Log.WithError(err).Debug("secondary retransmission failed")
		}
		for {
			wkc2 = p.InFrame(idx, Secondary)
			if wkc2 > NoFrame || timer2.Expired() {
				break
			}
		}
		if wkc2 > NoFrame {
			p.acceptSecondary(idx)
			wkc = wkc2
		}
	}

	return wkc
}

// acceptSecondary promotes the secondary path's received frame to the
// primary slot and completes it.
func (p *Port) acceptSecondary(idx uint8) {
	p.mu.Lock()
	copy(p.rxbuf[idx][:], p.red.rxbuf[idx][:])
	p.rxsa[idx] = p.red.rxsa[idx]
	p.rxstat[idx] = BufComplete
	p.mu.Unlock()
}

// WaitInFrame blocks until the frame for idx arrives or timeoutUs
// microseconds elapse, and returns the reply working counter or NoFrame.
// The wait is a bounded spin poll; nothing below this layer blocks.
func (p *Port) WaitInFrame(idx uint8, timeoutUs int) int {
	timer := ectime.StartTimerOn(p.Clock, time.Duration(timeoutUs)*time.Microsecond)
	return p.waitInFrameRed(idx, timer)
}

// SRConfirm transmits the buffer at idx (on both paths of a redundant
// pair), waits for the reply, and retransmits while the original deadline
// holds and nothing usable arrived. Retries never extend the deadline.
// Returns the reply working counter, or NoFrame with
// the last send error if transmission itself kept failing.
func (p *Port) SRConfirm(idx uint8, timeoutUs int) (int, error) {
	var senderr error
	wkc := NoFrame

	timer1 := ectime.StartTimerOn(p.Clock, time.Duration(timeoutUs)*time.Microsecond)
	for {
		if err := p.OutFrameRed(idx); err != nil {
			senderr = err
		}

		retUs := TimeoutRetUs
		if timeoutUs < retUs {
			retUs = timeoutUs
		}
		timer2 := ectime.StartTimerOn(p.Clock, time.Duration(retUs)*time.Microsecond)
		wkc = p.waitInFrameRed(idx, timer2)

		// a zero working counter means no slave answered; worth retrying
		// while time remains
		if wkc > 0 || timer1.Expired() {
			break
		}
	}

	if wkc <= NoFrame && senderr != nil {
		return NoFrame, senderr
	}
	return wkc, nil
}
