// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package environment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPortsUnavailable is returned when no candidate port set is free.
var ErrPortsUnavailable = errors.New("no free port set available")

var errPortBusy = errors.New("port busy")

// PortSet is the set of ports the streaming service listens on.
type PortSet struct {
	HTTP    int `json:"http"`
	HTTPS   int `json:"https"`
	RTSP    int `json:"rtsp"`
	Control int `json:"control"`
}

// All returns the ports in a fixed order.
func (p PortSet) All() []int {
	return []int{p.HTTP, p.HTTPS, p.RTSP, p.Control}
}

// Shift returns the set moved by delta.
func (p PortSet) Shift(delta int) PortSet {
	return PortSet{HTTP: p.HTTP + delta, HTTPS: p.HTTPS + delta, RTSP: p.RTSP + delta, Control: p.Control + delta}
}

func (p PortSet) String() string {
	return fmt.Sprintf("http=%d https=%d rtsp=%d control=%d", p.HTTP, p.HTTPS, p.RTSP, p.Control)
}

// PortAllocator hands out disjoint port sets to concurrent runs in one
// process and checks the OS for ports held by anything else.
type PortAllocator struct {
	mu       sync.Mutex
	reserved map[int]struct{}
	isFree   func(port int) bool
}

// NewPortAllocator returns an allocator that probes ports by binding them.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{
		reserved: make(map[int]struct{}),
		isFree:   canBind,
	}
}

var defaultAllocator = NewPortAllocator()

// Allocate returns the first candidate base.Shift(stride*k), k < attempts,
// whose ports are all free and unreserved. The chosen set is reserved until Release.
func (a *PortAllocator) Allocate(ctx context.Context, base PortSet, stride, attempts int) (PortSet, error) {
	if attempts < 1 {
		attempts = 1
	}
	for k := 0; k < attempts; k++ {
		if err := ctx.Err(); err != nil {
			return PortSet{}, err
		}
		candidate := base.Shift(stride * k)
		if !validPorts(candidate) {
			continue
		}
		if a.tryReserve(ctx, candidate) {
			return candidate, nil
		}
	}
	return PortSet{}, fmt.Errorf("%w (base %s, %d attempts)", ErrPortsUnavailable, base, attempts)
}

func (a *PortAllocator) tryReserve(ctx context.Context, set PortSet) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range set.All() {
		if _, taken := a.reserved[p]; taken {
			return false
		}
	}

	g, _ := errgroup.WithContext(ctx)
	for _, p := range set.All() {
		g.Go(func() error {
			if !a.isFree(p) {
				return errPortBusy
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false
	}

	for _, p := range set.All() {
		a.reserved[p] = struct{}{}
	}
	return true
}

// Release returns a set to the pool. Releasing twice is harmless.
func (a *PortAllocator) Release(set PortSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range set.All() {
		delete(a.reserved, p)
	}
}

func validPorts(set PortSet) bool {
	seen := make(map[int]struct{}, 4)
	for _, p := range set.All() {
		if p <= 0 || p > 65535 {
			return false
		}
		if _, dup := seen[p]; dup {
			return false
		}
		seen[p] = struct{}{}
	}
	return true
}

// canBind reports whether a TCP listener can be opened on all interfaces,
// which is where the container runtime publishes.
func canBind(port int) bool {
	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
