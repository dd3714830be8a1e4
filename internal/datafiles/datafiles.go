// Package datafiles reads the files the sidecar and the sampler keep under
// the data root and hands them to the UI verbatim.
package datafiles

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"go.olrik.dev/dawnhost/internal/core"
)

// DefaultFeedLimit is used when a caller does not ask for a feed length
const DefaultFeedLimit = 50

// Reader resolves data files relative to one data root
type Reader struct {
	root string
}

func NewReader(root string) *Reader {
	return &Reader{root: root}
}

// Root returns the data root
func (r *Reader) Root() string {
	return r.root
}

// Manifest returns vault/manifest.json; ok is false when it does not exist
func (r *Reader) Manifest() (content string, ok bool, err error) {
	return readOptional(core.ManifestPath(r.root))
}

// Peers returns mesh/peers.json; ok is false when it does not exist
func (r *Reader) Peers() (content string, ok bool, err error) {
	return readOptional(core.PeersPath(r.root))
}

// ResourceState returns mesh/resource_state.json; ok is false when it does
// not exist
func (r *Reader) ResourceState() (content string, ok bool, err error) {
	return readOptional(core.ResourceStatePath(r.root))
}

// Feed returns at most the last limit lines of mesh/agent_feed.jsonl, oldest
// first. A missing feed is empty.
func (r *Reader) Feed(limit int) ([]string, error) {
	path := core.FeedPath(r.root)
	if limit <= 0 {
		return []string{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()

	// Ring of the last limit lines. It grows with the feed, so a large limit
	// never allocates more than the lines that exist.
	var ring []string
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(ring) < limit {
			ring = append(ring, scanner.Text())
		} else {
			ring[count%limit] = scanner.Text()
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Oldest line sits at count%limit once the ring has wrapped
	lines := make([]string, 0, len(ring))
	start := 0
	if count > len(ring) {
		start = count % limit
	}
	for i := range ring {
		lines = append(lines, ring[(start+i)%len(ring)])
	}
	return lines, nil
}

func readOptional(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), true, nil
}
