package cmd

import (
	"fmt"
	"io"
)

const banner = `
  _   _ _           _  __
 | | | (_)_   _____| |/ /___  ___ _ __   ___ _ __
 | |_| | \ \ / / _ \ ' // _ \/ _ \ '_ \ / _ \ '__|
 |  _  | |\ V /  __/ . \  __/  __/ |_) |  __/ |
 |_| |_|_| \_/ \___|_|\_\___|\___| .__/ \___|_|
                                 |_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Hive key custody - Version %s\x1b[0m\n\n", Version)
}
