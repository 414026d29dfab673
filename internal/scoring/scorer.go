package scoring

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/autoscore/autoscore/internal/model"
)

// MileageBaseline is the mileage at which the mileage term contributes zero.
const MileageBaseline = 100_000

// ValidationError reports a payload that is well-formed JSON but unusable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ErrInvalidVehicle matches every *ValidationError.
var ErrInvalidVehicle = errors.New("invalid vehicle")

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidVehicle }

// Score applies w to v for the given reference year:
//
//	max(0, year-v.Year)*age_weight + (100000-mileage)*mileage_bonus + engine_size*engine_size_bonus
//
// Terms for absent mileage or engine size are omitted. The result is rounded
// to two decimals.
func Score(v model.VehicleData, w Weights, currentYear int) float64 {
	age := max(0, currentYear-v.Year)
	total := float64(age) * w.AgeWeight
	if v.Mileage != nil {
		total += (MileageBaseline - *v.Mileage) * w.MileageBonus
	}
	if v.EngineSize != nil {
		total += *v.EngineSize * w.EngineSizeBonus
	}
	return round2(total)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Scorer scores vehicles against a RuleTable.
type Scorer struct {
	rules *RuleTable
	now   func() time.Time
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithNow overrides the clock used to derive the current year.
func WithNow(now func() time.Time) ScorerOption {
	return func(s *Scorer) { s.now = now }
}

// NewScorer creates a Scorer over rules.
func NewScorer(rules *RuleTable, opts ...ScorerOption) *Scorer {
	s := &Scorer{rules: rules, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Rules returns the table the scorer uses.
func (s *Scorer) Rules() *RuleTable { return s.rules }

// Validate checks the required fields of v.
func Validate(v model.VehicleData) error {
	switch {
	case strings.TrimSpace(v.Make) == "":
		return &ValidationError{Field: "make", Message: "field required"}
	case strings.TrimSpace(v.Model) == "":
		return &ValidationError{Field: "model", Message: "field required"}
	case v.Year == 0:
		return &ValidationError{Field: "year", Message: "field required"}
	}
	return nil
}

// ScoreVehicle validates v, looks up its weights and returns it with a score.
func (s *Scorer) ScoreVehicle(v model.VehicleData) (model.VehicleScore, error) {
	if err := Validate(v); err != nil {
		return model.VehicleScore{}, err
	}
	key := Key(v.Make, v.Model)
	w, ok := s.rules.Lookup(key)
	if !ok {
		return model.VehicleScore{}, &NotFoundError{Key: key}
	}
	return model.VehicleScore{
		VehicleData: v,
		Score:       Score(v, w, s.now().UTC().Year()),
	}, nil
}

// ScoreBatch scores every vehicle. The first failure aborts the batch.
func (s *Scorer) ScoreBatch(vs []model.VehicleData) ([]model.VehicleScore, error) {
	out := make([]model.VehicleScore, 0, len(vs))
	for _, v := range vs {
		sc, err := s.ScoreVehicle(v)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}
