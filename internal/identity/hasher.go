package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follows the OWASP argon2id baseline.
var DefaultParams = &Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// Stored hashes asking for more than this are refused rather than computed.
const (
	maxMemory     = 1024 * 1024
	maxIterations = 16
)

var (
	errMismatch     = errors.New("password does not match")
	errMalformedPHC = errors.New("malformed argon2id hash")
)

// Argon2Hasher stores user passwords as argon2id PHC strings:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
type Argon2Hasher struct {
	params *Argon2Params
}

func NewArgon2Hasher(params *Argon2Params) *Argon2Hasher {
	if params == nil {
		params = DefaultParams
	}
	return &Argon2Hasher{params: params}
}

type phc struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

func (h phc) String() string {
	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		enc.EncodeToString(h.salt), enc.EncodeToString(h.key))
}

func derive(password string, p Argon2Params, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
}

func (a *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, a.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	return phc{params: *a.params, salt: salt, key: derive(password, *a.params, salt)}.String(), nil
}

// Compare checks password against a stored hash using the cost recorded in the hash itself.
func (a *Argon2Hasher) Compare(encoded, password string) error {
	stored, err := parsePHC(encoded)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(stored.key, derive(password, stored.params, stored.salt)) != 1 {
		return errMismatch
	}
	return nil
}

// NeedsRehash reports whether a stored hash was made with a weaker cost than the hasher's.
func (a *Argon2Hasher) NeedsRehash(encoded string) bool {
	stored, err := parsePHC(encoded)
	if err != nil {
		return true
	}
	p := stored.params
	return p.Memory < a.params.Memory ||
		p.Iterations < a.params.Iterations ||
		p.KeyLength < a.params.KeyLength ||
		uint32(len(stored.salt)) < a.params.SaltLength
}

func parsePHC(encoded string) (*phc, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, errMalformedPHC
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, fmt.Errorf("%w: unsupported version %q", errMalformedPHC, parts[2])
	}

	var h phc
	for _, field := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(field, "=")
		if !ok {
			return nil, errMalformedPHC
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errMalformedPHC, field)
		}
		switch name {
		case "m":
			h.params.Memory = uint32(n)
		case "t":
			h.params.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return nil, fmt.Errorf("%w: %s", errMalformedPHC, field)
			}
			h.params.Parallelism = uint8(n)
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", errMalformedPHC, name)
		}
	}
	if h.params.Memory == 0 || h.params.Iterations == 0 || h.params.Parallelism == 0 {
		return nil, errMalformedPHC
	}
	if h.params.Memory > maxMemory || h.params.Iterations > maxIterations {
		return nil, fmt.Errorf("%w: cost too high", errMalformedPHC)
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, fmt.Errorf("%w: salt: %v", errMalformedPHC, err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, fmt.Errorf("%w: key: %v", errMalformedPHC, err)
	}
	if len(h.key) == 0 {
		return nil, errMalformedPHC
	}
	h.params.SaltLength = uint32(len(h.salt))
	h.params.KeyLength = uint32(len(h.key))
	return &h, nil
}
