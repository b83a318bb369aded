package db

import (
	"fmt"
)

// VersionFunc migrates a database between two schema versions. It runs
// inside the transaction that also writes the new version, so everything
// it does is atomic with the version bump.
type VersionFunc func(d *Database, from, to int32) error

// OnUpgrade registers the hook that runs when SetVersion raises the
// stored version. It replaces any previously registered hook.
func (d *Database) OnUpgrade(fn VersionFunc) {
	d.onUpgrade = fn
}

// OnDowngrade registers the hook that runs when SetVersion lowers the
// stored version.
func (d *Database) OnDowngrade(fn VersionFunc) {
	d.onDowngrade = fn
}

// Version reads the schema version from the user_version pragma. A
// database that has never been versioned reads 0.
func (d *Database) Version() (int32, error) {
	rs, err := d.Query("PRAGMA user_version")
	if err != nil {
		return 0, err
	}
	defer rs.Close()
	iterator, err := rs.Begin()
	if err != nil {
		return 0, err
	}
	if iterator.State() != StateHasRow {
		return 0, newError("step", "PRAGMA user_version", fmt.Errorf("pragma returned no row"))
	}
	cursor, err := iterator.Cursor()
	if err != nil {
		return 0, err
	}
	return int32(cursor.Int64(0)), nil
}

// SetVersion moves the stored schema version to version, running at most
// one registered hook on the way:
//
//   - version below 1 is rejected with ErrBadVersion before anything
//     touches the database; 0 stays reserved for "never versioned"
//   - a stored version equal to the target is a no-op
//   - a stored version of 0 writes the target directly with no hook,
//     which is the initial population case
//   - otherwise the upgrade hook runs when raising and the downgrade
//     hook when lowering, before the version is written and before the
//     transaction commits; a hook error rolls everything back and the
//     stored version does not move
//
// A direction with no registered hook writes the version directly.
func (d *Database) SetVersion(version int32) error {
	if version <= 0 {
		return fmt.Errorf("version %d: %w", version, ErrBadVersion)
	}
	stored, err := d.Version()
	if err != nil {
		return err
	}
	if stored == version {
		return nil
	}
	txn, err := d.Begin(TxDeferred)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	if stored > 0 {
		switch {
		case version > stored && d.onUpgrade != nil:
			if err := d.onUpgrade(d, stored, version); err != nil {
				return fmt.Errorf("upgrade %d to %d: %w", stored, version, err)
			}
		case version < stored && d.onDowngrade != nil:
			if err := d.onDowngrade(d, stored, version); err != nil {
				return fmt.Errorf("downgrade %d to %d: %w", stored, version, err)
			}
		}
	}
	if err := d.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	d.log.Debug("schema version set", "path", d.path, "from", stored, "to", version)
	return nil
}
