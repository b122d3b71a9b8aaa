package ruletable

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
)

// On-disk layout of a .prt file (all integers little-endian):
//
//	header   64 bytes  magic, version, rule count, generated-at (unix ns),
//	                   metadata offset/size, rules offset/size
//	metadata JSON      Metadata
//	rules    JSON      []Rule
//	footer   16 bytes  CRC-32 (IEEE) of metadata+rules, rule count, data end
const (
	MagicBytes    uint32 = 0x50525442
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 16
	FileExt              = ".prt"
)

// Header is the fixed-size prefix of a persisted table.
type Header struct {
	Magic       uint32
	Version     uint32
	RuleCount   uint32
	GeneratedAt int64
	MetaOffset  int64
	MetaSize    int64
	RulesOffset int64
	RulesSize   int64
}

// Marshal encodes t in the .prt format.
func Marshal(t *Table) ([]byte, error) {
	metaData, err := json.Marshal(t.meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	rulesData, err := json.Marshal(t.rules)
	if err != nil {
		return nil, fmt.Errorf("marshaling rules: %w", err)
	}

	h := Header{
		Magic:       MagicBytes,
		Version:     FormatVersion,
		RuleCount:   uint32(len(t.rules)),
		GeneratedAt: t.generatedAt.UnixNano(),
		MetaOffset:  int64(HeaderSize),
		MetaSize:    int64(len(metaData)),
		RulesOffset: int64(HeaderSize + len(metaData)),
		RulesSize:   int64(len(rulesData)),
	}
	dataEnd := h.RulesOffset + h.RulesSize

	buf := make([]byte, 0, int(dataEnd)+FooterSize)
	buf = append(buf, encodeHeader(h)...)
	buf = append(buf, metaData...)
	buf = append(buf, rulesData...)

	checksum := crc32.ChecksumIEEE(buf[HeaderSize:dataEnd])
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum)
	binary.LittleEndian.PutUint32(footer[4:8], h.RuleCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(dataEnd))
	return append(buf, footer...), nil
}

// Unmarshal decodes a .prt image. It either returns a complete Table or an
// error; it never returns a partially populated table.
func Unmarshal(data []byte) (*Table, error) {
	if len(data) < HeaderSize+FooterSize {
		return nil, fmt.Errorf("file too short: %d bytes", len(data))
	}
	h := decodeHeader(data[:HeaderSize])
	if h.Magic != MagicBytes {
		return nil, fmt.Errorf("bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported format version %d", h.Version)
	}
	if h.MetaOffset != int64(HeaderSize) || h.MetaSize < 0 ||
		h.RulesOffset != h.MetaOffset+h.MetaSize || h.RulesSize < 0 {
		return nil, errors.New("inconsistent block offsets")
	}
	dataEnd := h.RulesOffset + h.RulesSize
	if dataEnd+int64(FooterSize) != int64(len(data)) {
		return nil, fmt.Errorf("size mismatch: header describes %d bytes, file has %d",
			dataEnd+int64(FooterSize), len(data))
	}

	footer := data[dataEnd:]
	if binary.LittleEndian.Uint64(footer[8:16]) != uint64(dataEnd) {
		return nil, errors.New("footer data-end mismatch")
	}
	if binary.LittleEndian.Uint32(footer[4:8]) != h.RuleCount {
		return nil, errors.New("footer rule count mismatch")
	}
	if got, want := crc32.ChecksumIEEE(data[HeaderSize:dataEnd]), binary.LittleEndian.Uint32(footer[0:4]); got != want {
		return nil, fmt.Errorf("checksum mismatch: got %08x, want %08x", got, want)
	}

	var meta Metadata
	if err := json.Unmarshal(data[h.MetaOffset:h.RulesOffset], &meta); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(data[h.RulesOffset:dataEnd], &rules); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if uint32(len(rules)) != h.RuleCount {
		return nil, fmt.Errorf("rule count mismatch: header %d, body %d", h.RuleCount, len(rules))
	}
	for i, r := range rules {
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}

	t := &Table{
		rules:       rules,
		generatedAt: time.Unix(0, h.GeneratedAt).UTC(),
		meta:        meta,
	}
	if t.rules == nil {
		t.rules = []Rule{}
	}
	t.stats = computeStats(t.rules)
	return t, nil
}

// WriteFile atomically persists t at path: it writes path+".tmp", syncs it
// and renames it over path.
func WriteFile(path string, t *Table) error {
	data, err := Marshal(t)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating rule table directory: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp rule table file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing rule table: %w", err)
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("syncing rule table file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming rule table file: %w", err)
	}
	return nil
}

// ReadFile loads a persisted table. Decoding failures are reported as
// ErrMalformedTable; a missing file is reported as is.
func ReadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule table: %w", err)
	}
	t, err := Unmarshal(data)
	if err != nil {
		return nil, apperrors.Malformed(path, err)
	}
	return t, nil
}

func validateRule(r Rule) error {
	if len(r.Antecedent) == 0 || len(r.Consequent) == 0 {
		return errors.New("empty antecedent or consequent")
	}
	seen := make(map[string]struct{}, len(r.Antecedent))
	for _, it := range r.Antecedent {
		seen[it] = struct{}{}
	}
	for _, it := range r.Consequent {
		if _, dup := seen[it]; dup {
			return fmt.Errorf("item %q on both sides", it)
		}
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0, 1]", r.Confidence)
	}
	if math.IsNaN(r.Lift) || r.Lift < 0 {
		return fmt.Errorf("negative lift %v", r.Lift)
	}
	return nil
}

func encodeHeader(h Header) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.RuleCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.GeneratedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.MetaOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.MetaSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.RulesOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.RulesSize))
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:       binary.LittleEndian.Uint32(b[0:4]),
		Version:     binary.LittleEndian.Uint32(b[4:8]),
		RuleCount:   binary.LittleEndian.Uint32(b[8:12]),
		GeneratedAt: int64(binary.LittleEndian.Uint64(b[16:24])),
		MetaOffset:  int64(binary.LittleEndian.Uint64(b[24:32])),
		MetaSize:    int64(binary.LittleEndian.Uint64(b[32:40])),
		RulesOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		RulesSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
	}
}
