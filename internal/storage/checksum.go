package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// CanonicalSerialize renders v as a JSON object with keys sorted
// lexicographically and floats in shortest round-trip form.
// ⭐ SSOT: 체크섬 입력 포맷은 여기서만 정의
func CanonicalSerialize(v contracts.WeightVector) ([]byte, error) {
	keys := make([]string, 0, len(v))
	for k, w := range v {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("factor %s: non-finite weight: %w", k, contracts.ErrValidation)
		}
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(k))
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(v[contracts.Factor(k)], 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DeserializeVector parses a canonical (or any JSON object) vector
func DeserializeVector(data []byte) (contracts.WeightVector, error) {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode weight vector: %w", err)
	}
	v := make(contracts.WeightVector, len(raw))
	for k, w := range raw {
		v[contracts.Factor(k)] = w
	}
	return v, nil
}

// Checksum returns the SHA-256 hex digest of the canonical serialization
func Checksum(v contracts.WeightVector) (string, error) {
	data, err := CanonicalSerialize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// verify recomputes the checksum of a stored version
func verify(v *contracts.WeightVersion) error {
	actual, err := Checksum(v.Weights)
	if err != nil {
		actual = "unserializable"
	}
	if actual != v.Checksum {
		return &contracts.IntegrityError{VersionID: v.ID, Expected: v.Checksum, Actual: actual}
	}
	return nil
}
