package StepDB

import (
	"github.com/nickyhof/StepDB/core"
	"github.com/nickyhof/StepDB/db"
	"github.com/nickyhof/StepDB/op"
	"github.com/nickyhof/StepDB/ps"
)

type Instance struct {
	Database    *db.Database
	Persistence *ps.Persistence
}

func Open(database *db.Database, persistence *ps.Persistence) *Instance {
	return &Instance{
		Database:    database,
		Persistence: persistence,
	}
}

func (instance *Instance) Archive(identity core.Identity) *op.ArchiveOp {
	return op.NewArchive(instance.Database, instance.Persistence, identity)
}
