package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/autoscore/autoscore/internal/model"
	"github.com/autoscore/autoscore/internal/scoring"
)

func newScoreCmd() *cobra.Command {
	var (
		v          model.VehicleData
		mileage    float64
		engineSize float64
		file       string
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score vehicles locally against the rule table",
		Long: `Score one vehicle from flags, or a JSON array of vehicles from --file, using
the configured rule table. Nothing is authenticated or audited.`,
		Example: `  autoscore score --make Toyota --model Corolla --year 2018 --mileage 42000
  autoscore score --file vehicles.json
  cat vehicles.json | autoscore score --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rules, err := scoring.LoadRulesFile(cfg.Scoring.RulesFile)
			if err != nil {
				return fmt.Errorf("load scoring rules: %w", err)
			}
			scorer := scoring.NewScorer(rules)

			var out any
			if file != "" {
				vehicles, err := readVehicles(file, cmd.InOrStdin())
				if err != nil {
					return err
				}
				scores, err := scorer.ScoreBatch(vehicles)
				if err != nil {
					return err
				}
				out = model.BatchResponse{Results: scores}
			} else {
				if v.Make == "" || v.Model == "" || v.Year == 0 {
					return fmt.Errorf("--make, --model and --year are required without --file")
				}
				if cmd.Flags().Changed("mileage") {
					v.Mileage = &mileage
				}
				if cmd.Flags().Changed("engine-size") {
					v.EngineSize = &engineSize
				}
				score, err := scorer.ScoreVehicle(v)
				if err != nil {
					return err
				}
				out = score
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&v.Make, "make", "", "Vehicle make")
	cmd.Flags().StringVar(&v.Model, "model", "", "Vehicle model")
	cmd.Flags().IntVar(&v.Year, "year", 0, "Model year")
	cmd.Flags().Float64Var(&mileage, "mileage", 0, "Odometer reading")
	cmd.Flags().Float64Var(&engineSize, "engine-size", 0, "Engine displacement in litres")
	cmd.Flags().StringVarP(&file, "file", "f", "", `JSON array of vehicles ("-" for stdin)`)

	return cmd
}

func readVehicles(path string, stdin io.Reader) ([]model.VehicleData, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var vehicles []model.VehicleData
	dec := json.NewDecoder(r)
	if err := dec.Decode(&vehicles); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return vehicles, nil
}
