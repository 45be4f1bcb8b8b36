package bleio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"hrlink/internal/adaptor"
)

// RadioFactory creates the Radio handle (overridable in tests).
var RadioFactory = func(logger *logrus.Logger) (Radio, error) {
	dev, err := newDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	}
	return &gobleRadio{dev: dev, logger: logger}, nil
}

// gobleRadio adapts a ble.Device to the Radio interface.
type gobleRadio struct {
	dev    ble.Device
	logger *logrus.Logger
}

type gobleAdvertisement struct {
	adv ble.Advertisement
}

func (a gobleAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a gobleAdvertisement) Addr() string      { return strings.ToLower(a.adv.Addr().String()) }
func (a gobleAdvertisement) RSSI() int         { return a.adv.RSSI() }
func (a gobleAdvertisement) Connectable() bool { return a.adv.Connectable() }

func (a gobleAdvertisement) Services() []string {
	uuids := a.adv.Services()
	services := make([]string, 0, len(uuids))
	for _, u := range uuids {
		services = append(services, adaptor.NormalizeUUID(u.String()))
	}
	return services
}

func (r *gobleRadio) Scan(ctx context.Context, allowDup bool, h func(Advertisement)) error {
	err := r.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		h(gobleAdvertisement{adv: adv})
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

func (r *gobleRadio) Dial(ctx context.Context, addr string) (Conn, error) {
	client, err := r.dev.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", addr, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}

	conn := &gobleConn{
		addr:   strings.ToLower(addr),
		client: client,
		chars:  make(map[string]*ble.Characteristic),
		logger: r.logger,
	}
	for _, svc := range profile.Services {
		svcUUID := adaptor.NormalizeUUID(svc.UUID.String())
		conn.sig.Services = append(conn.sig.Services, svcUUID)
		for _, char := range svc.Characteristics {
			charUUID := adaptor.NormalizeUUID(char.UUID.String())
			conn.sig.Characteristics = append(conn.sig.Characteristics, charUUID)
			conn.chars[charUUID] = char
		}
	}

	return conn, nil
}

func (r *gobleRadio) Close() error {
	return r.dev.Stop()
}

// gobleConn adapts a ble.Client plus its discovered profile.
type gobleConn struct {
	addr   string
	client ble.Client
	sig    adaptor.Signature
	chars  map[string]*ble.Characteristic
	logger *logrus.Logger
}

func (c *gobleConn) Address() string {
	return c.addr
}

func (c *gobleConn) Signature() adaptor.Signature {
	return c.sig
}

func (c *gobleConn) Subscribe(charUUID string, h func([]byte)) error {
	char, ok := c.chars[adaptor.NormalizeUUID(charUUID)]
	if !ok {
		return fmt.Errorf("characteristic %q not found", charUUID)
	}
	if char.Property&ble.CharNotify == 0 {
		return fmt.Errorf("characteristic %q does not support notifications", charUUID)
	}
	return c.client.Subscribe(char, false, func(data []byte) {
		h(data)
	})
}

func (c *gobleConn) Read(charUUID string) ([]byte, error) {
	char, ok := c.chars[adaptor.NormalizeUUID(charUUID)]
	if !ok {
		return nil, fmt.Errorf("characteristic %q not found", charUUID)
	}
	data, err := c.client.ReadCharacteristic(char)
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %q: %w", charUUID, err)
	}
	return data, nil
}

func (c *gobleConn) Disconnected() <-chan struct{} {
	return c.client.Disconnected()
}

func (c *gobleConn) Close() error {
	c.client.ClearSubscriptions()
	return c.client.CancelConnection()
}
