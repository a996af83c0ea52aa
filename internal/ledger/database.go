package ledger

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) (*Database, error) {
	if err := db.AutoMigrate(&Actor{}, &Holding{}); err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

// GetActor loads an actor row by its external id. Returns (nil, nil) when
// the actor does not exist.
func (d *Database) GetActor(actorID string) (*Actor, error) {
	var actor Actor
	if err := d.db.Where("actor_id = ?", actorID).First(&actor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &actor, nil
}

// GetHoldings loads all holding rows of an actor.
func (d *Database) GetHoldings(actorID string) ([]Holding, error) {
	var holdings []Holding
	if err := d.db.Where("actor_id = ?", actorID).Find(&holdings).Error; err != nil {
		return nil, err
	}
	return holdings, nil
}

// ListActors loads every actor row.
func (d *Database) ListActors() ([]Actor, error) {
	var actors []Actor
	if err := d.db.Find(&actors).Error; err != nil {
		return nil, err
	}
	return actors, nil
}

// SaveAccount upserts the whole account: the actor row and one holding row
// per symbol, in a single transaction. Saves are whole-entity, so a failed
// save leaves the previous state durable and the next save reconciles.
func (d *Database) SaveAccount(a *Account) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		actor := Actor{ActorID: a.ID, Kind: string(a.Kind), Cash: a.Cash}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "cash"}),
		}).Create(&actor).Error; err != nil {
			return err
		}
		for symbol, qty := range a.Holdings {
			holding := Holding{ActorID: a.ID, Symbol: symbol, Quantity: qty}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "actor_id"}, {Name: "symbol"}},
				DoUpdates: clause.AssignmentColumns([]string{"quantity"}),
			}).Create(&holding).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
