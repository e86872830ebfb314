package main

import (
	"encoding/json"
	"io"

	"github.com/chrschn/insightgo/vmi/rangemap"
)

// encodeNodesJSON and decodeNodesJSON give the diff command a stable
// on-disk representation of a built map's live nodes without round-
// tripping through the full builder: rangemap.Node's exported fields
// marshal directly.
func encodeNodesJSON(w io.Writer, nodes []rangemap.Node) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(nodes)
}

func decodeNodesJSON(r io.Reader) ([]rangemap.Node, error) {
	var nodes []rangemap.Node
	if err := json.NewDecoder(r).Decode(&nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// nodesToMap rebuilds a queryable rangemap.Map from a flat node slice, the
// inverse of rangemap.Map.All used when loading a previously-saved map.
func nodesToMap(nodes []rangemap.Node) *rangemap.Map {
	m := rangemap.New()
	for _, n := range nodes {
		m.Insert(n)
	}
	return m
}
