package ecmd

import (
	"errors"

	"gopkg.in/tomb.v2"
)

// Multiplexer shares one Commander between goroutines. Channel commanders
// opened on it forward New to the underlying commander; a cycle only runs
// when every channel with open commands has asked for one, so concurrent
// users agree on frame boundaries without locking.
type Multiplexer struct {
	c Commander

	reqchan chan interface{}
	t       tomb.Tomb

	chans []*muxChanControlBlock

	cyclepending  bool
	cycleRespChan chan error
}

func NewMultiplexer(c Commander) (m *Multiplexer, err error) {
	m = &Multiplexer{
		c:       c,
		reqchan: make(chan interface{}),
	}

	m.t.Go(m.loop)

	return
}

func (m *Multiplexer) loop() error {
	for {
		if m.cyclepending {
			allcycling := true
			for _, cb := range m.chans {
				if cb.commandsOpen && !cb.cycling {
					allcycling = false
					break
				}
			}

			if allcycling {
				err := m.c.Cycle()

				for _, cb := range m.chans {
					if cb.cycling {
						cb.cyclingChan.responseChan <- err
					}
					cb.cycling = false
					cb.commandsOpen = false
				}

				m.cyclepending = false
				m.cycleRespChan <- err
				m.cycleRespChan = nil
			}
		}

		select {
		case req := <-m.reqchan:
			switch req := req.(type) {
			case muxChanNew:
				ec, err := m.c.New(req.datalen)
				req.responseChan <- muxChanNewResponse{ec, err}
				m.getCB(req.muxChannel).commandsOpen = true

			case muxChanCycle:
				cb := m.getCB(req.muxChannel)
				if cb.cycling {
					req.responseChan <- errors.New("there already is a concurrent Cycle() pending on this mux channel")
					break
				}

				cb.cycling = true
				cb.cyclingChan = cyclingChan{req.muxChannel, req.responseChan}

			case muxCycle:
				if m.cycleRespChan != nil {
					req.responseChan <- errors.New("there already is a concurrent Cycle() on this multiplexer")
					break
				}
				m.cyclepending = true
				m.cycleRespChan = req.responseChan

			case openCommander:
				c := &muxChannel{
					mux:             m,
					newResponseChan: make(chan muxChanNewResponse),
					errResponseChan: make(chan error),
				}

				m.chans = append(m.chans, &muxChanControlBlock{muxChannel: c})

				req.responseChan <- openCommanderResponse{c, nil}
			}

		case <-m.t.Dying():
			return nil
		}
	}
}

func (m *Multiplexer) getCB(mc *muxChannel) *muxChanControlBlock {
	for _, cb := range m.chans {
		if cb.muxChannel == mc {
			return cb
		}
	}
	panic("missing mux chan control block")
}

// OpenCommander opens a channel commander bound to this multiplexer's
// cycles.
func (m *Multiplexer) OpenCommander() (Commander, error) {
	req := openCommander{make(chan openCommanderResponse)}
	select {
	case m.reqchan <- req:
	case <-m.t.Dying():
		return nil, errors.New("multiplexer closed")
	}
	resp := <-req.responseChan
	return resp.Commander, resp.error
}

// Cycle runs the underlying commander's cycle once every channel with open
// commands is ready for it.
func (m *Multiplexer) Cycle() error {
	req := muxCycle{make(chan error)}
	select {
	case m.reqchan <- req:
	case <-m.t.Dying():
		return errors.New("multiplexer closed")
	}
	return <-req.responseChan
}

// Close stops the loop and closes the underlying commander.
func (m *Multiplexer) Close() error {
	m.t.Kill(nil)
	err := m.t.Wait()
	if cerr := m.c.Close(); err == nil {
		err = cerr
	}
	return err
}

type muxChanControlBlock struct {
	*muxChannel
	cyclingChan  cyclingChan
	commandsOpen bool
	cycling      bool
}

// cycle bound channel
type muxChannel struct {
	mux             *Multiplexer
	newResponseChan chan muxChanNewResponse
	errResponseChan chan error
}

func (mc *muxChannel) New(datalen int) (*ExecutingCommand, error) {
	select {
	case mc.mux.reqchan <- muxChanNew{mc, datalen, mc.newResponseChan}:
	case <-mc.mux.t.Dying():
		return nil, errors.New("multiplexer closed")
	}
	resp := <-mc.newResponseChan
	return resp.ExecutingCommand, resp.error
}

func (mc *muxChannel) Cycle() error {
	select {
	case mc.mux.reqchan <- muxChanCycle{mc, mc.errResponseChan}:
	case <-mc.mux.t.Dying():
		return errors.New("multiplexer closed")
	}
	return <-mc.errResponseChan
}

func (mc *muxChannel) Close() error {
	return nil
}

type muxChanNew struct {
	*muxChannel
	datalen      int
	responseChan chan muxChanNewResponse
}

type muxChanNewResponse struct {
	*ExecutingCommand
	error
}

type muxChanCycle struct {
	*muxChannel
	responseChan chan error
}

type muxCycle struct {
	responseChan chan error
}

type openCommander struct {
	responseChan chan openCommanderResponse
}

type openCommanderResponse struct {
	Commander
	error
}

type cyclingChan struct {
	*muxChannel
	responseChan chan error
}
