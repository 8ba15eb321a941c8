package sensors

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller samples component temperatures on a fixed interval so status
// surfaces can read the last snapshot without hitting the controller.
type Poller struct {
	reader   *Reader
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
	onSample func(Snapshot)
	lastErr  error
}

func NewPoller(reader *Reader, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		reader:   reader,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// OnSample sets a callback run after every successful sample. Must be
// called before Start.
func (p *Poller) OnSample(fn func(Snapshot)) {
	p.onSample = fn
}

func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.wg.Add(1)

	go p.pollLoop()

	p.logger.Info("Temperature poller started", zap.Duration("interval", p.interval))

	return nil
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.logger.Info("Temperature poller stopped")
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.sample()
	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.sample()
		}
	}
}

func (p *Poller) sample() {
	snap, err := p.reader.Temperatures()
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	if err != nil {
		p.logger.Error("Temperature poll failed", zap.Error(err))
		return
	}
	if p.onSample != nil {
		p.onSample(snap)
	}
}

// LastError returns the error of the most recent sample, nil after a
// successful one.
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
