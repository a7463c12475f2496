package pnio

import "fmt"

func errShort(what string) error {
	return fmt.Errorf("pnio: truncated %s", what)
}
