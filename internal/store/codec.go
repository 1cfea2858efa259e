package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fyrsmithlabs/kimerad/internal/geoid"
	"github.com/fyrsmithlabs/kimerad/internal/insight"
	"github.com/fyrsmithlabs/kimerad/internal/scar"
)

// The codec is the serialization boundary of the persistence adapter: every
// record crosses it as portable JSON (float64, plain slices, strings) and
// vectors convert to the backend's float32 form only here.

func encodeGeoid(g *geoid.Geoid) (content string, meta map[string]string, embedding []float32, err error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: encoding geoid: %v", ErrPersistence, err)
	}
	meta = map[string]string{
		"kind":          string(g.Kind),
		"symbolic_type": g.Symbolic.Type,
	}
	return string(raw), meta, vecToF32(g.Vector), nil
}

func decodeGeoid(content string) (*geoid.Geoid, error) {
	var g geoid.Geoid
	if err := json.Unmarshal([]byte(content), &g); err != nil {
		return nil, fmt.Errorf("%w: decoding geoid: %v", ErrPersistence, err)
	}
	return &g, nil
}

func encodeSCAR(s *scar.SCAR) (content string, meta map[string]string, embedding []float32, err error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: encoding scar: %v", ErrPersistence, err)
	}
	meta = map[string]string{
		"vault_id":     s.VaultID,
		"crystallized": strconv.FormatBool(s.Crystallized),
	}
	return string(raw), meta, vecToF32(s.Vector), nil
}

func decodeSCAR(content string) (*scar.SCAR, error) {
	var s scar.SCAR
	if err := json.Unmarshal([]byte(content), &s); err != nil {
		return nil, fmt.Errorf("%w: decoding scar: %v", ErrPersistence, err)
	}
	return &s, nil
}

func encodeInsight(rec *insight.Record) (content string, meta map[string]string, err error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", nil, fmt.Errorf("%w: encoding insight: %v", ErrPersistence, err)
	}
	meta = map[string]string{
		"type":   string(rec.Type),
		"status": string(rec.Status),
	}
	return string(raw), meta, nil
}

func decodeInsight(content string) (*insight.Record, error) {
	var rec insight.Record
	if err := json.Unmarshal([]byte(content), &rec); err != nil {
		return nil, fmt.Errorf("%w: decoding insight: %v", ErrPersistence, err)
	}
	return &rec, nil
}

func vecToF32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
