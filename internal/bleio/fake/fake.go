// Package fake provides in-memory Radio and Conn implementations for
// driving the scanner and the connection manager in tests without
// Bluetooth hardware.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"hrlink/internal/adaptor"
	"hrlink/internal/bleio"
)

// Adv is a canned advertisement.
type Adv struct {
	Name        string
	Address     string
	Rssi        int
	ServiceList []string
}

func (a Adv) LocalName() string  { return a.Name }
func (a Adv) Addr() string       { return a.Address }
func (a Adv) RSSI() int          { return a.Rssi }
func (a Adv) Services() []string { return a.ServiceList }
func (a Adv) Connectable() bool  { return true }

// Radio replays canned advertisements on every scan and hands out the
// configured connections on dial.
type Radio struct {
	mu             sync.Mutex
	Advertisements []Adv
	Peripherals    map[string]*Conn
	ScanErr        error
	DialErr        error
	ScanCount      int
}

var _ bleio.Radio = (*Radio)(nil)

// NewRadio creates an empty fake radio.
func NewRadio() *Radio {
	return &Radio{Peripherals: make(map[string]*Conn)}
}

// AddPeripheral registers a connectable peripheral and advertises it.
func (r *Radio) AddPeripheral(conn *Conn, adv Adv) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Advertisements = append(r.Advertisements, adv)
	r.Peripherals[strings.ToLower(adv.Address)] = conn
}

func (r *Radio) Scan(_ context.Context, _ bool, h func(bleio.Advertisement)) error {
	r.mu.Lock()
	r.ScanCount++
	advs := append([]Adv(nil), r.Advertisements...)
	err := r.ScanErr
	r.mu.Unlock()

	if err != nil {
		return err
	}
	for _, adv := range advs {
		h(adv)
	}
	return nil
}

func (r *Radio) Dial(_ context.Context, addr string) (bleio.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DialErr != nil {
		return nil, r.DialErr
	}
	conn, ok := r.Peripherals[strings.ToLower(addr)]
	if !ok {
		return nil, fmt.Errorf("no peripheral with address %q", addr)
	}
	conn.reset()
	return conn, nil
}

func (r *Radio) Close() error { return nil }

// Conn is a scriptable peripheral connection. Notifications are injected
// with Notify; link loss with Drop.
type Conn struct {
	Addr string
	Sig  adaptor.Signature
	// Reads maps characteristic UUIDs to canned read payloads.
	Reads map[string][]byte
	// SubscribeErr, when set, fails every Subscribe call.
	SubscribeErr error

	mu           sync.Mutex
	handlers     map[string]func([]byte)
	disconnected chan struct{}
	dropped      bool
	closed       bool
}

var _ bleio.Conn = (*Conn)(nil)

// NewConn creates a connection exposing the given GATT signature.
func NewConn(addr string, sig adaptor.Signature) *Conn {
	return &Conn{
		Addr:         strings.ToLower(addr),
		Sig:          sig,
		Reads:        make(map[string][]byte),
		handlers:     make(map[string]func([]byte)),
		disconnected: make(chan struct{}),
	}
}

// reset re-arms the connection for a re-dial after Drop.
func (c *Conn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped || c.closed {
		c.disconnected = make(chan struct{})
		c.dropped = false
		c.closed = false
		c.handlers = make(map[string]func([]byte))
	}
}

func (c *Conn) Address() string              { return c.Addr }
func (c *Conn) Signature() adaptor.Signature { return c.Sig }

func (c *Conn) Subscribe(charUUID string, h func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return c.SubscribeErr
	}
	c.handlers[adaptor.NormalizeUUID(charUUID)] = h
	return nil
}

func (c *Conn) Read(charUUID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.Reads[adaptor.NormalizeUUID(charUUID)]
	if !ok {
		return nil, fmt.Errorf("characteristic %q not found", charUUID)
	}
	return data, nil
}

func (c *Conn) Disconnected() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Notify delivers a notification payload to the subscribed handler, if
// any. Returns true when a handler consumed it.
func (c *Conn) Notify(charUUID string, data []byte) bool {
	c.mu.Lock()
	h, ok := c.handlers[adaptor.NormalizeUUID(charUUID)]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}

// Subscribed reports whether a handler is registered for the UUID.
func (c *Conn) Subscribed(charUUID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[adaptor.NormalizeUUID(charUUID)]
	return ok
}

// Drop simulates link loss.
func (c *Conn) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dropped {
		c.dropped = true
		close(c.disconnected)
	}
}
