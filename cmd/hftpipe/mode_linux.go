package main

import "github.com/0x5487/hft"

func omsOption() (hft.Option, error) {
	return hft.WithOMSEngine(), nil
}
