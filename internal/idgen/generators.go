package idgen

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nrednav/cuid2"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/ksuid"
)

const (
	DefaultNanoIDSize     = 21
	DefaultNanoIDAlphabet = "_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	DefaultCUID2Length    = 24
)

// New returns the generator named by kind. machineID and epoch only apply
// to snowflake.
func New(kind string, machineID, epoch int64) (Generator, error) {
	switch kind {
	case "", "snowflake":
		return NewSnowflake(machineID, epoch)
	case "ulid":
		return ULID{}, nil
	case "ksuid":
		return KSUID{}, nil
	case "nanoid":
		return NewNanoID(DefaultNanoIDSize, DefaultNanoIDAlphabet)
	case "cuid2":
		return NewCUID2(DefaultCUID2Length)
	case "uuid":
		return UUID{}, nil
	default:
		return nil, fmt.Errorf("unknown id generator: %s", kind)
	}
}

// ULID produces lexicographically sortable 26 character IDs.
type ULID struct{}

func (ULID) Generate() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

// KSUID produces 27 character IDs sortable to the second.
type KSUID struct{}

func (KSUID) Generate() (string, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate KSUID: %w", err)
	}
	return id.String(), nil
}

// UUID produces random v4 UUIDs.
type UUID struct{}

func (UUID) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return id.String(), nil
}

type NanoID struct {
	size     int
	alphabet string
}

func NewNanoID(size int, alphabet string) (*NanoID, error) {
	if size < 1 || size > 256 {
		return nil, fmt.Errorf("nanoid size must be between 1 and 256, got %d", size)
	}
	if len(alphabet) < 2 {
		return nil, fmt.Errorf("nanoid alphabet must have at least 2 characters, got %d", len(alphabet))
	}
	return &NanoID{size: size, alphabet: alphabet}, nil
}

func (g *NanoID) Generate() (string, error) {
	id, err := gonanoid.Generate(g.alphabet, g.size)
	if err != nil {
		return "", fmt.Errorf("failed to generate NanoID: %w", err)
	}
	return id, nil
}

type CUID2 struct {
	generate func() string
}

func NewCUID2(length int) (*CUID2, error) {
	if length < 2 || length > 32 {
		return nil, fmt.Errorf("cuid2 length must be between 2 and 32, got %d", length)
	}
	gen, err := cuid2.Init(cuid2.WithLength(length))
	if err != nil {
		return nil, fmt.Errorf("failed to init CUID2 generator: %w", err)
	}
	return &CUID2{generate: gen}, nil
}

func (g *CUID2) Generate() (string, error) {
	return g.generate(), nil
}
