// Package membership loads the static node set N that spec.md §6.3
// requires at startup: the local node ID and the full peer address map.
// Two loaders are supported (SPEC_FULL.md §2.3): the teacher's flag
// convention (ParsePeers) and a YAML cluster file (LoadFile), mirroring
// the hosts-file idea from original_source/application/src/settings.rs in
// structured form.
package membership

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Config is the resolved node set: self's ID and every node's address,
// including self's own.
type Config struct {
	Self  int
	Peers map[int]string // node ID -> "host:port"
}

// Majority returns ⌊|N|/2⌋+1 for this node set.
func (c Config) Majority() int {
	return len(c.Peers)/2 + 1
}

// NodeIDs returns every node ID in N, sorted, for deterministic iteration
// (log output, test fixtures).
func (c Config) NodeIDs() []int {
	ids := make([]int, 0, len(c.Peers))
	for id := range c.Peers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SelfAddr returns the address self is configured to bind.
func (c Config) SelfAddr() (string, error) {
	addr, ok := c.Peers[c.Self]
	if !ok {
		return "", errors.Newf("membership: self node %d not present in peer set", c.Self)
	}
	return addr, nil
}

// ParsePeers parses the teacher's flag convention: a comma-separated list
// of "id=host:port" pairs, e.g. "1=127.0.0.1:7001,2=127.0.0.1:7002".
func ParsePeers(self int, raw string) (Config, error) {
	peers := make(map[int]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idStr, addr, ok := strings.Cut(entry, "=")
		if !ok {
			return Config{}, errors.Newf("membership: malformed peer entry %q, want id=host:port", entry)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil {
			return Config{}, errors.Wrapf(err, "membership: invalid node id in entry %q", entry)
		}
		peers[id] = strings.TrimSpace(addr)
	}
	return validate(Config{Self: self, Peers: peers})
}

// fileFormat is the on-disk YAML shape for LoadFile:
//
//	self: 1
//	nodes:
//	  1: 127.0.0.1:7001
//	  2: 127.0.0.1:7002
type fileFormat struct {
	Self  int            `yaml:"self"`
	Nodes map[int]string `yaml:"nodes"`
}

// LoadFile reads a YAML cluster configuration file. Self in the file is
// used unless overrideSelf is non-nil, letting a single shared cluster
// file be reused across nodes with --id overriding which row is "this"
// node.
func LoadFile(path string, overrideSelf *int) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "membership: reading cluster file %s", path)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, errors.Wrapf(err, "membership: parsing cluster file %s", path)
	}
	self := f.Self
	if overrideSelf != nil {
		self = *overrideSelf
	}
	return validate(Config{Self: self, Peers: f.Nodes})
}

func validate(c Config) (Config, error) {
	if len(c.Peers) == 0 {
		return Config{}, errors.New("membership: empty node set")
	}
	if _, ok := c.Peers[c.Self]; !ok {
		return Config{}, errors.Newf("membership: self node %d not present in node set", c.Self)
	}
	return c, nil
}
