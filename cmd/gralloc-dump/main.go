// Command gralloc-dump is a dumpsys-style diagnostic CLI: it connects to
// a running grallocd and prints its dumpAllBuffers report, following the
// teacher's cmd/*/main.go convention of one small binary per concern
// (spec.md §9 supplemented features).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/snvd-io/device-generic-goldfish/rpc"
)

func main() {
	sockPath := flag.String("socket", rpc.DefaultSocketPath(), "grallocd Unix socket path")
	flag.Parse()

	if err := run(*sockPath); err != nil {
		fmt.Fprintf(os.Stderr, "gralloc-dump: %v\n", err)
		os.Exit(1)
	}
}

func run(sockPath string) error {
	var suffix struct {
		Suffix string `json:"suffix"`
	}
	if err := rpc.Call(sockPath, "librarySuffix", nil, &suffix); err != nil {
		return fmt.Errorf("librarySuffix: %w", err)
	}
	fmt.Printf("library suffix: %s\n", suffix.Suffix)

	var dump struct {
		Text string `json:"text"`
	}
	if err := rpc.Call(sockPath, "dump", nil, &dump); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	if dump.Text == "" {
		fmt.Println("(no buffers currently imported)")
		return nil
	}
	fmt.Print(dump.Text)
	return nil
}
