//go:build !linux

package main

import (
	"fmt"

	"github.com/0x5487/hft"
)

func omsOption() (hft.Option, error) {
	return nil, fmt.Errorf("oms mode needs epoll and eventfd: %w", hft.ErrNotSupported)
}
