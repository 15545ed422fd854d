package feed

import (
	"encoding/json"
	"fmt"

	"github.com/olehkaliuzhnyi/certwallet/pkg/models"
)

// Kinds of feed records, in the order a batch is applied.
const (
	KindRegistry    = "registry"
	KindCertificate = "certificate"
	KindSlice       = "slice"
)

// Record is one entry of the registry feed. Exactly one payload is set.
type Record struct {
	Registry    *models.Registry    `json:"registry,omitempty"`
	Certificate *models.Certificate `json:"certificate,omitempty"`
	Slice       *models.Slice       `json:"slice,omitempty"`
}

// Kind returns the kind of the payload, or "" if the record does not carry
// exactly one.
func (r Record) Kind() string {
	kind, n := "", 0
	if r.Registry != nil {
		kind, n = KindRegistry, n+1
	}
	if r.Certificate != nil {
		kind, n = KindCertificate, n+1
	}
	if r.Slice != nil {
		kind, n = KindSlice, n+1
	}
	if n != 1 {
		return ""
	}
	return kind
}

// DecodeRecord parses the JSON form of a record.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode feed record: %w", err)
	}
	if r.Kind() == "" {
		return Record{}, fmt.Errorf("decode feed record: expected exactly one payload")
	}
	return r, nil
}

func rank(kind string) int {
	switch kind {
	case KindRegistry:
		return 0
	case KindCertificate:
		return 1
	default:
		return 2
	}
}
