package keytable

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
)

// KeySize is the length in bytes of a clearkey content key.
const KeySize = 16

var (
	// ErrDuplicateKeyID is returned when two entries share a key id
	ErrDuplicateKeyID = errors.New("duplicate key id")
	// ErrInvalidKeyID is returned when a key id is not valid base64url
	ErrInvalidKeyID = errors.New("invalid key id")
	// ErrInvalidKeySize is returned when key material is not KeySize bytes
	ErrInvalidKeySize = errors.New("invalid key size")
)

// Entry pairs a key id with its content key.
type Entry struct {
	// Name is a human label such as "video" or "audio"
	Name string
	// KeyID is the base64url unpadded key id
	KeyID string
	// Key is the raw content key
	Key [KeySize]byte
}

// Seed returns the compiled-in entries for the sample media.
func Seed() []Entry {
	return []Entry{
		{
			// big-buck-bunny_trailer_video-clearkey-encrypted.webm
			Name:  "video",
			KeyID: "LNsO1hGYU-eFBnHD6ZBsPA",
			Key: [KeySize]byte{
				0x80, 0x8B, 0x9A, 0xDA, 0xC3, 0x84, 0xDE, 0x1E,
				0x4F, 0x56, 0x14, 0x0F, 0x4A, 0xD7, 0x61, 0x94,
			},
		},
		{
			// big-buck-bunny_trailer_audio-clearkey-encrypted.webm
			Name:  "audio",
			KeyID: "QU-g5jS0AZ7fyJfhfCE3hg",
			Key: [KeySize]byte{
				0xAC, 0xBD, 0x22, 0xD9, 0x08, 0x35, 0x19, 0x78,
				0x7F, 0x34, 0x37, 0x6C, 0x41, 0x94, 0xB3, 0x97,
			},
		},
	}
}

// Table is an immutable mapping from key id to content key. It is safe for
// concurrent use because nothing mutates it after New returns.
type Table struct {
	keys  map[string][KeySize]byte
	names map[string]string
}

// New builds a table from entries, validating every key id.
func New(entries ...Entry) (*Table, error) {
	t := &Table{
		keys:  make(map[string][KeySize]byte, len(entries)),
		names: make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		if _, err := DecodeBase64URL(e.KeyID); err != nil || e.KeyID == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKeyID, e.KeyID)
		}
		if _, ok := t.keys[e.KeyID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKeyID, e.KeyID)
		}
		t.keys[e.KeyID] = e.Key
		t.names[e.KeyID] = e.Name
	}
	return t, nil
}

// MustNew is like New but panics on invalid entries. Use it for compiled-in data.
func MustNew(entries ...Entry) *Table {
	t, err := New(entries...)
	if err != nil {
		panic(fmt.Sprintf("keytable: %v", err))
	}
	return t
}

// Default returns a table holding only the seed entries.
func Default() *Table {
	return MustNew(Seed()...)
}

// Lookup returns a copy of the content key for kid.
func (t *Table) Lookup(kid string) ([]byte, bool) {
	k, ok := t.keys[kid]
	if !ok {
		return nil, false
	}
	out := make([]byte, KeySize)
	copy(out, k[:])
	return out, true
}

// Name returns the label of kid, or "" when unknown.
func (t *Table) Name(kid string) string {
	return t.names[kid]
}

// KeyIDByName returns the key id labelled name. When several entries share
// a label the smallest key id wins.
func (t *Table) KeyIDByName(name string) (string, bool) {
	for _, id := range t.KeyIDs() {
		if t.names[id] == name {
			return id, true
		}
	}
	return "", false
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.keys)
}

// KeyIDs returns the sorted key ids. Key material is never exposed here.
func (t *Table) KeyIDs() []string {
	ids := make([]string, 0, len(t.keys))
	for id := range t.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParseHexKey parses a 32 character hex string into a content key.
func ParseHexKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("parse hex key: %w", err)
	}
	if len(b) != KeySize {
		return key, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeySize, len(b), KeySize)
	}
	copy(key[:], b)
	return key, nil
}
