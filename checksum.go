package sasquatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"hash/crc32"
	"os"
	"sort"
	"strings"
	"sync"

	crc16 "github.com/sigurn/crc16"
	"github.com/zeebo/blake3"
	"github.com/zeebo/xxh3"
)

var checksumNames = []string{"crc32", "crc16", "xxhash", "sha256", "blake3"}

func parseChecksum(name string) (uint8, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = defaultChecksumName
	}
	for i, n := range checksumNames {
		if n == name {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("unknown checksum %q, want one of %s", name, strings.Join(checksumNames, ", "))
}

func newHasher(t uint8) hash.Hash {
	switch t {
	case sumCRC32:
		return crc32.NewIEEE()
	case sumCRC16:
		table := crc16.MakeTable(crc16.CRC16_CCITT_FALSE)
		return crc16.New(table)
	case sumXXHash:
		return xxh3.New()
	case sumSHA256:
		return sha256.New()
	case sumBlake3:
		fallthrough
	default:
		return blake3.New()
	}
}

// ManifestEntry is one extracted file.
type ManifestEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Sum  string `json:"sum"`
}

// Manifest lists extracted files with their checksums.
type Manifest struct {
	Image     string          `json:"image"`
	Algorithm string          `json:"algorithm"`
	Files     []ManifestEntry `json:"files"`

	sum  uint8
	lock sync.Mutex
}

func newManifest(image, algorithm string) (*Manifest, error) {
	t, err := parseChecksum(algorithm)
	if err != nil {
		return nil, err
	}
	return &Manifest{Image: image, Algorithm: checksumNames[t], sum: t}, nil
}

func (m *Manifest) hasher() hash.Hash {
	return newHasher(m.sum)
}

func (m *Manifest) add(p string, size int64, h hash.Hash) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.Files = append(m.Files, ManifestEntry{Path: p, Size: size, Sum: hex.EncodeToString(h.Sum(nil))})
}

func (m *Manifest) write(name string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
