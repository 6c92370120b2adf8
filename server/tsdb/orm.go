package tsdb

import (
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Point is one measurement at one moment, with its tags flattened into columns
type Point struct {
	BaseModel
	Measurement string
	Time        dbh.IntTime
	Source      string
	Location    string
	AnimalType  string
	Fields      string // JSON
}
