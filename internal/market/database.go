package market

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) (*Database, error) {
	if err := db.AutoMigrate(&Instrument{}, &Market{}); err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

// GetInstrument loads an instrument row by symbol. Returns (nil, nil) when
// the symbol is not listed.
func (d *Database) GetInstrument(symbol string) (*Instrument, error) {
	var instrument Instrument
	if err := d.db.Where("symbol = ?", symbol).First(&instrument).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &instrument, nil
}

// ListInstruments loads every instrument row.
func (d *Database) ListInstruments() ([]*Instrument, error) {
	var instruments []*Instrument
	if err := d.db.Find(&instruments).Error; err != nil {
		return nil, err
	}
	return instruments, nil
}

// SaveInstrument upserts the instrument's whole persisted state by symbol.
func (d *Database) SaveInstrument(i *Instrument) error {
	row := Instrument{
		Symbol:            i.Symbol,
		Price:             i.Price,
		Volume:            i.Volume,
		SharesOutstanding: i.SharesOutstanding,
		Revenue:           i.Revenue,
		Profit:            i.Profit,
		RndSpend:          i.RndSpend,
		BaseVolatility:    i.BaseVolatility,
		LastTradedAt:      i.LastTradedAt,
	}
	return d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price", "volume", "shares_outstanding", "revenue",
			"profit", "rnd_spend", "base_volatility", "last_traded_at",
		}),
	}).Create(&row).Error
}

// GetMarket loads the macro singleton. Returns (nil, nil) when no row has
// been created yet.
func (d *Database) GetMarket() (*Market, error) {
	var market Market
	if err := d.db.First(&market).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &market, nil
}

// SaveMarket upserts the macro singleton.
func (d *Database) SaveMarket(m *Market) error {
	existing, err := d.GetMarket()
	if err != nil {
		return err
	}
	if existing == nil {
		return d.db.Create(m).Error
	}
	return d.db.Model(existing).Updates(map[string]interface{}{
		"interest_rate":  m.InterestRate,
		"last_policy_at": m.LastPolicyAt,
	}).Error
}
