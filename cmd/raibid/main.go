package main

import (
	"github.com/raibid-labs/raibid/internal/cmd"
)

func main() {
	cmd.Execute()
}
