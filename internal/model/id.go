package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type IDType string

const (
	IDTypeRun    IDType = "run"
	IDTypeSuite  IDType = "suite"
	IDTypeTest   IDType = "test"
	IDTypeWorker IDType = "wrk"
)

var validIDTypes = map[IDType]bool{
	IDTypeRun:    true,
	IDTypeSuite:  true,
	IDTypeTest:   true,
	IDTypeWorker: true,
}

var idRegex = regexp.MustCompile(`^(run|suite|test|wrk)_[0-9]{10}_[0-9a-f]{8}$`)

// stableNamespace scopes name-based ids so they never collide with random ones.
var stableNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("stepflow"))

func GenerateID(idType IDType) (string, error) {
	if !validIDTypes[idType] {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return format(idType, time.Now().Unix(), u), nil
}

// StableID derives a deterministic id from a name, so that a retried test
// keeps its identity across attempts. The timestamp part is zero.
func StableID(idType IDType, name string) string {
	return format(idType, 0, uuid.NewSHA1(stableNamespace, []byte(string(idType)+":"+name)))
}

func format(idType IDType, ts int64, u uuid.UUID) string {
	hexStr := strings.ReplaceAll(u.String(), "-", "")[:8]
	return fmt.Sprintf("%s_%010d_%s", idType, ts, hexStr)
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}

func ParseIDType(id string) (IDType, error) {
	if !ValidateID(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	match := idRegex.FindStringSubmatch(id)
	return IDType(match[1]), nil
}

func ParseIDTimestamp(id string) (time.Time, error) {
	if !ValidateID(id) {
		return time.Time{}, fmt.Errorf("invalid ID format: %s", id)
	}
	// Extract timestamp portion: after first '_', 10 digits
	tsStr := id[len(id)-19 : len(id)-9]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp from ID %s: %w", id, err)
	}
	return time.Unix(ts, 0), nil
}
