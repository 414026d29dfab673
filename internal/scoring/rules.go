// Package scoring computes vehicle scores from a flat weight table keyed by
// make and model.
package scoring

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Variables that every make/model column must define.
const (
	VarAgeWeight       = "age_weight"
	VarMileageBonus    = "mileage_bonus"
	VarEngineSizeBonus = "engine_size_bonus"
)

// ErrRulesNotFound is returned when the table has no column for a make/model.
var ErrRulesNotFound = errors.New("scoring rules not found")

// NotFoundError names the missing make/model key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return "Scoring rules not found for make/model: " + e.Key
}

func (e *NotFoundError) Is(target error) bool { return target == ErrRulesNotFound }

// Weights are the coefficients applied to one make/model.
type Weights struct {
	AgeWeight       float64 `json:"age_weight"`
	MileageBonus    float64 `json:"mileage_bonus"`
	EngineSizeBonus float64 `json:"engine_size_bonus"`
}

// RuleTable maps make/model keys to weights. It is immutable once loaded.
type RuleTable struct {
	weights map[string]Weights
}

// Key normalizes a make and model into the table key: "make_model" with
// spaces replaced by underscores.
func Key(vehicleMake, vehicleModel string) string {
	return strings.ReplaceAll(vehicleMake+"_"+vehicleModel, " ", "_")
}

// LoadRulesFile reads a rule table from a CSV file.
func LoadRulesFile(path string) (*RuleTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load scoring rules: %w", err)
	}
	defer f.Close()

	t, err := LoadRules(f)
	if err != nil {
		return nil, fmt.Errorf("load scoring rules from %s: %w", path, err)
	}
	return t, nil
}

// LoadRules parses a rule table. The first column is named "variable" and
// holds the variable names; each further column is one make/model key.
func LoadRules(r io.Reader) (*RuleTable, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty rule table")
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	if len(header) < 2 || header[0] != "variable" {
		return nil, errors.New(`rule table must start with a "variable" column followed by make/model columns`)
	}

	keys := header[1:]
	values := make(map[string][]float64, 3)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		name := strings.TrimSpace(rec[0])
		row := make([]float64, len(keys))
		for i := range keys {
			cell := strings.TrimSpace(rec[i+1])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				line, _ := cr.FieldPos(i + 1)
				return nil, fmt.Errorf("line %d: %s for %s: %w", line, name, keys[i], err)
			}
			row[i] = v
		}
		values[name] = row
	}

	for _, v := range []string{VarAgeWeight, VarMileageBonus, VarEngineSizeBonus} {
		if _, ok := values[v]; !ok {
			return nil, fmt.Errorf("rule table is missing the %q row", v)
		}
	}

	t := &RuleTable{weights: make(map[string]Weights, len(keys))}
	for i, k := range keys {
		if k == "" {
			continue
		}
		t.weights[k] = Weights{
			AgeWeight:       values[VarAgeWeight][i],
			MileageBonus:    values[VarMileageBonus][i],
			EngineSizeBonus: values[VarEngineSizeBonus][i],
		}
	}
	return t, nil
}

// NewRuleTable builds a table from explicit weights.
func NewRuleTable(weights map[string]Weights) *RuleTable {
	t := &RuleTable{weights: make(map[string]Weights, len(weights))}
	for k, w := range weights {
		t.weights[k] = w
	}
	return t
}

// Lookup returns the weights for a make/model key.
func (t *RuleTable) Lookup(key string) (Weights, bool) {
	w, ok := t.weights[key]
	return w, ok
}

// Keys returns every make/model key, sorted.
func (t *RuleTable) Keys() []string {
	keys := make([]string, 0, len(t.weights))
	for k := range t.weights {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of make/model columns.
func (t *RuleTable) Len() int { return len(t.weights) }
