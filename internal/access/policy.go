// Package access decides which actors may act on which records.
package access

import (
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

var stageRoles = map[record.Role][]stage.Stage{
	record.RoleFarmer:      {stage.Hatchery, stage.GrowOut, stage.Harvest},
	record.RoleFisher:      {stage.Fishing, stage.Harvest},
	record.RoleProcessor:   {stage.Processing, stage.ColdStorage},
	record.RoleDistributor: {stage.ColdStorage, stage.Transport},
	record.RoleRetailer:    {stage.Retail, stage.Consumer},
}

// RolePolicy grants stage transitions by supply-chain role. Admins and record
// owners may do anything to their records.
type RolePolicy struct{}

// NewRolePolicy returns the default role policy.
func NewRolePolicy() RolePolicy {
	return RolePolicy{}
}

// StagesFor lists the stages a role may record on records it does not own.
func StagesFor(role record.Role) []stage.Stage {
	return append([]stage.Stage(nil), stageRoles[role]...)
}

func (RolePolicy) CanCreate(actor record.Actor, source stage.SourceType) bool {
	switch actor.Role {
	case record.RoleAdmin:
		return true
	case record.RoleFarmer:
		return source == stage.SourceFarmed
	case record.RoleFisher:
		return source == stage.SourceWildCapture
	default:
		return false
	}
}

func (p RolePolicy) CanTransition(actor record.Actor, rec *record.Record, target stage.Stage) bool {
	if p.CanManage(actor, rec) {
		return true
	}
	for _, st := range stageRoles[actor.Role] {
		if st == target {
			return true
		}
	}
	return false
}

// CanChangeStatus lets owners complete their own records. Recalls and manual
// expiry are admin-only.
func (RolePolicy) CanChangeStatus(actor record.Actor, rec *record.Record, to record.Status) bool {
	if actor.IsAdmin() {
		return true
	}
	return to == record.StatusCompleted && rec != nil && rec.OwnerID == actor.ID
}

func (RolePolicy) CanManage(actor record.Actor, rec *record.Record) bool {
	if actor.IsAdmin() {
		return true
	}
	return rec != nil && actor.ID != "" && rec.OwnerID == actor.ID
}

// CanView reports whether viewer may see rec. Public records are visible to
// everyone, including anonymous viewers.
func (p RolePolicy) CanView(viewer *record.Actor, rec *record.Record) bool {
	if rec == nil {
		return false
	}
	if rec.IsPublic {
		return true
	}
	if viewer == nil {
		return false
	}
	return p.CanManage(*viewer, rec)
}
