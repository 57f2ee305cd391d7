package rentals

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// PriceTable is the file format operators use to seed rental durations.
//
//	games:
//	  - game_id: 0190c1e4-...
//	    options:
//	      - duration: 3600
//	        price: "150.00"
type PriceTable struct {
	Games []GamePrices `yaml:"games"`
}

// GamePrices lists the options of one game.
type GamePrices struct {
	GameID  string        `yaml:"game_id"`
	Options []PriceOption `yaml:"options"`
}

// PriceOption is one duration and its price. Price is kept as text so that values like 0.10
// survive decoding exactly.
type PriceOption struct {
	Duration int64  `yaml:"duration"`
	Price    string `yaml:"price"`
}

// LoadPriceTable decodes a price table and checks every option.
func LoadPriceTable(r io.Reader) (PriceTable, error) {
	var table PriceTable
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&table); err != nil {
		return PriceTable{}, fmt.Errorf("%w: price table: %v", ErrValidation, err)
	}

	for _, g := range table.Games {
		if g.GameID == "" {
			return PriceTable{}, invalid("price table: game_id is required")
		}
		for _, opt := range g.Options {
			if opt.Duration <= 0 {
				return PriceTable{}, invalid("price table: game %s has a non-positive duration", g.GameID)
			}
			if _, err := parsePrice(opt.Price); err != nil {
				return PriceTable{}, fmt.Errorf("price table: game %s: %w", g.GameID, err)
			}
		}
	}
	return table, nil
}

// ImportPriceTable upserts every option in one transaction and returns how many were written.
func (s *Service) ImportPriceTable(ctx context.Context, table PriceTable) (int, error) {
	var n int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, g := range table.Games {
			for _, opt := range g.Options {
				price, err := parsePrice(opt.Price)
				if err != nil {
					return err
				}
				if _, err := s.upsertDuration(tx, g.GameID, Seconds(opt.Duration), price); err != nil {
					return err
				}
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func parsePrice(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, invalid("price %q is not a decimal number", v)
	}
	if d.IsNegative() {
		return decimal.Zero, invalid("price %q must not be negative", v)
	}
	return d, nil
}
