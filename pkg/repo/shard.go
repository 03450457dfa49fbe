package repo

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Shard splits the RPMs of a snapshot across parallel runs. Every run still
// fetches and stores all metadata. The zero value keeps everything.
type Shard struct {
	Index  uint64
	Modulo uint64
}

// ParseShard parses "index:modulo" with 0 <= index < modulo. An empty string means no sharding.
func ParseShard(s string) (Shard, error) {
	if s == "" {
		return Shard{}, nil
	}
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return Shard{}, fmt.Errorf("bad RPM shard %q: want index:modulo", s)
	}
	idx, err := strconv.ParseUint(a, 10, 64)
	if err != nil {
		return Shard{}, fmt.Errorf("bad RPM shard %q: %w", s, err)
	}
	mod, err := strconv.ParseUint(b, 10, 64)
	if err != nil {
		return Shard{}, fmt.Errorf("bad RPM shard %q: %w", s, err)
	}
	if idx >= mod {
		return Shard{}, fmt.Errorf("bad RPM shard %q: index must be below modulo", s)
	}
	return Shard{Index: idx, Modulo: mod}, nil
}

func (s Shard) String() string {
	if s.Modulo == 0 {
		return "0:1"
	}
	return fmt.Sprintf("%d:%d", s.Index, s.Modulo)
}

// Contains reports whether the NEVRA belongs to this shard, using bytes 12..20
// of its sha1 as a little endian integer.
func (s Shard) Contains(nevra string) bool {
	if s.Modulo <= 1 {
		return true
	}
	sum := sha1.Sum([]byte(nevra))
	return binary.LittleEndian.Uint64(sum[12:20])%s.Modulo == s.Index
}
