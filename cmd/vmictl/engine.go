package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/chrschn/insightgo/vmi"
)

// loadSpecsFile reads a "key = value" memory specification record, one
// entry per line, blank lines and "#"-prefixed lines ignored — the same
// flat record shape memspecs.Parse consumes, just read off disk here
// rather than embedded in a symbol-stream-adjacent blob.
func loadSpecsFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	kv := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed spec line %q", line)
		}
		kv[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return kv, nil
}

// openEngine is the common setup every subcommand that touches a dump
// needs: read the symbol stream and spec file off disk, then hand them to
// vmi.Open.
func openEngine(dumpPath, symbolPath, specPath string, opts vmi.EngineOptions) (*vmi.Engine, error) {
	symbolStream, err := os.ReadFile(symbolPath)
	if err != nil {
		return nil, fmt.Errorf("reading symbol stream: %w", err)
	}
	specKV, err := loadSpecsFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("reading memory specification: %w", err)
	}
	e, err := vmi.Open(dumpPath, symbolStream, specKV, opts)
	if err != nil {
		return nil, fmt.Errorf("opening engine: %w", err)
	}
	return e, nil
}
