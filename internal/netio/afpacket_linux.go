//go:build linux

package netio

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// AFPacket is a raw Ethernet TxQueue/RxQueue backed by an AF_PACKET socket
// bound to one interface: socket creation, bind, nonblocking + poll, and
// eventfd-based cancellation.
type AFPacket struct {
	fd        int
	ifIndex   int
	cancelFD  int
	logger    *slog.Logger
}

// NewAFPacket opens an AF_PACKET raw socket bound to ifName.
func NewAFPacket(ifName string, logger *slog.Logger) (*AFPacket, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("netio: socket: %w", err)
	}
	iface, err := unix.IfNameIndex()
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netio: if_nameindex: %w", err)
	}
	idx := -1
	for _, e := range iface {
		if e.Name == ifName {
			idx = int(e.Index)
			break
		}
	}
	if idx < 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("netio: interface %q not found", ifName)
	}
	sa := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: idx}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netio: bind to %q: %w", ifName, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netio: set nonblocking: %w", err)
	}
	cfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netio: eventfd: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AFPacket{fd: fd, ifIndex: idx, cancelFD: cfd, logger: logger}, nil
}

func htons(v int) uint16 {
	return uint16(v>>8) | uint16(v<<8)
}

// Send transmits frame, retrying on EAGAIN until the kernel accepts it —
// the Go-level equivalent of the burst-transmit primitive's "retry until
// accepted" contract.
func (a *AFPacket) Send(frame []byte) error {
	for {
		_, err := unix.Write(a.fd, frame)
		if err == nil {
			return nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			continue
		}
		return fmt.Errorf("netio: send: %w", err)
	}
}

// Receive polls the socket and the cancellation eventfd together, reading
// one frame once the socket becomes readable.
func (a *AFPacket) Receive(ctx context.Context) ([]byte, error) {
	fds := []unix.PollFd{
		{Fd: int32(a.fd), Events: unix.POLLIN},
		{Fd: int32(a.cancelFD), Events: unix.POLLIN},
	}
	for {
		if ctx.Err() != nil {
			return nil, nil
		}
		n, err := unix.Poll(fds, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("netio: poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			return nil, nil
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			buf := make([]byte, 65536)
			m, _, err := unix.Recvfrom(a.fd, buf, 0)
			if err != nil {
				if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
					continue
				}
				return nil, fmt.Errorf("netio: recvfrom: %w", err)
			}
			return buf[:m], nil
		}
	}
}

// Close releases the socket and cancellation eventfd, waking any blocked
// Receive call.
func (a *AFPacket) Close() error {
	one := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	unix.Write(a.cancelFD, one)
	unix.Close(a.cancelFD)
	return unix.Close(a.fd)
}
