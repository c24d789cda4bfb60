// Package vector implements normalization, cosine similarity and the serialized
// (JSON array) form of embedding vectors.
package vector

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
)

// Epsilon is added to the L2 norm so an all-zero vector never divides by zero.
const Epsilon = 1e-8

var (
	// ErrInvalidVector is returned for empty vectors or vectors with NaN/Inf components.
	ErrInvalidVector = errors.New("vector is empty or contains non-finite values")
	// ErrDecode is returned when serialized data is not a JSON array of numbers.
	ErrDecode = errors.New("serialized vector is not a JSON array of numbers")
)

// Valid reports whether v is non-empty and every component is finite.
func Valid(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Norm returns the L2 norm of v. It does not validate v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		f := float64(x)
		sum += f * f
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit length: v_i / (||v|| + Epsilon).
// The input is not modified.
func Normalize(v []float32) ([]float32, error) {
	if !Valid(v) {
		return nil, ErrInvalidVector
	}
	n := Norm(v) + Epsilon
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

// CosineSimilarity returns the dot product of a and b clamped to [-1, 1].
// Both inputs are expected to be unit vectors. Mismatched lengths, empty or
// non-finite input yield 0, which callers must read as "incomparable".
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || !Valid(a) || !Valid(b) {
		return 0.0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return clamp(dot)
}

// CosineSimilarityEncoded decodes both serialized vectors and compares them.
// A decode failure on either side yields 0.
func CosineSimilarityEncoded(a, b string) float64 {
	va, err := Decode(a)
	if err != nil {
		return 0.0
	}
	vb, err := Decode(b)
	if err != nil {
		return 0.0
	}
	return CosineSimilarity(va, vb)
}

// Encode serializes v as a JSON array of numbers.
func Encode(v []float32) (string, error) {
	if !Valid(v) {
		return "", ErrInvalidVector
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a JSON array of numbers. Anything else, including an empty
// array or null, is rejected.
func Decode(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != '[' {
		return nil, ErrDecode
	}
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, ErrDecode
	}
	if !Valid(v) {
		return nil, ErrInvalidVector
	}
	return v, nil
}

// IsUnit reports whether v's norm is within tolerance of 1.
func IsUnit(v []float32, tolerance float64) bool {
	return Valid(v) && math.Abs(Norm(v)-1) <= tolerance
}

func clamp(x float64) float64 {
	if x > 1.0 {
		return 1.0
	}
	if x < -1.0 {
		return -1.0
	}
	return x
}
