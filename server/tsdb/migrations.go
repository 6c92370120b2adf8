package tsdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	// fields is a JSON object of field name to value
	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE point(
			id INTEGER PRIMARY KEY,
			measurement TEXT NOT NULL,
			time INT NOT NULL,
			source TEXT NOT NULL,
			location TEXT NOT NULL,
			animal_type TEXT NOT NULL,
			fields TEXT NOT NULL
		);

		CREATE INDEX idx_point_measurement_time ON point (measurement, time);
	`))

	return migs
}
