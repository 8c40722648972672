package platform

import (
	"net"
	"sync/atomic"

	"github.com/songgao/water"
	"golang.zx2c4.com/wireguard/tun"
)

// waterTUN adapts a songgao/water TUN interface to the platform.TUN
// surface the rest of this repository uses.
type waterTUN struct {
	iface *water.Interface
	name  string
	mtu   int
}

func (w *waterTUN) Read(buf []byte) (int, error)  { return w.iface.Read(buf) }
func (w *waterTUN) Write(buf []byte) (int, error) { return w.iface.Write(buf) }
func (w *waterTUN) Name() string  { return w.name }
func (w *waterTUN) MTU() int      { return w.mtu }
func (w *waterTUN) Close() error  { return w.iface.Close() }

// DeviceWrapper adapts a platform.TUN into the tun.Device interface that
// golang.zx2c4.com/wireguard/device.NewDevice expects, so the engine can
// drive any platform.TUN through the reference WireGuard implementation
// without that implementation knowing about songgao/water at all.
type DeviceWrapper struct {
	inner  TUN
	events chan tun.Event
	closed atomic.Bool
}

// WrapTUN constructs a wireguard-go tun.Device around an already-open
// platform.TUN.
func WrapTUN(t TUN) *DeviceWrapper {
	w := &DeviceWrapper{
		inner:  t,
		events: make(chan tun.Event, 1),
	}
	w.events <- tun.EventUp
	return w
}

func (w *DeviceWrapper) Read(bufs [][]byte, sizes []int, offset int) (int, error) {
	if w.closed.Load() || len(bufs) == 0 {
		return 0, net.ErrClosed
	}
	n, err := w.inner.Read(bufs[0][offset:])
	if n > 0 {
		sizes[0] = n
		return 1, nil
	}
	return 0, err
}

func (w *DeviceWrapper) Write(bufs [][]byte, offset int) (int, error) {
	if w.closed.Load() {
		return 0, net.ErrClosed
	}
	count := 0
	for _, buf := range bufs {
		if len(buf) <= offset {
			continue
		}
		if _, err := w.inner.Write(buf[offset:]); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (w *DeviceWrapper) Flush() error { return nil }

func (w *DeviceWrapper) MTU() (int, error) { return w.inner.MTU(), nil }

func (w *DeviceWrapper) Name() (string, error) { return w.inner.Name(), nil }

func (w *DeviceWrapper) Events() <-chan tun.Event { return w.events }

func (w *DeviceWrapper) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(w.events)
	return w.inner.Close()
}

func (w *DeviceWrapper) BatchSize() int { return 1 }
