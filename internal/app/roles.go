package app

import (
	"fmt"
	"strings"
)

// Role names accepted by ParseRoles.
const (
	RoleController = "controller"
	RoleIngest     = "ingest"
	RoleDetail     = "detail"
	RoleTrigger    = "trigger"
	RoleAPI        = "api"
	RoleAll        = "all"
)

// Roles selects which components a process runs.
type Roles struct {
	Controller bool
	Ingest     bool
	Detail     bool
	Trigger    bool
	API        bool
}

// AllRoles runs everything in one process.
func AllRoles() Roles {
	return Roles{Controller: true, Ingest: true, Detail: true, Trigger: true, API: true}
}

// ParseRoles converts role names into Roles. An empty list means all.
func ParseRoles(names []string) (Roles, error) {
	if len(names) == 0 {
		return AllRoles(), nil
	}
	var r Roles
	for _, raw := range names {
		for _, name := range strings.Split(raw, ",") {
			switch strings.ToLower(strings.TrimSpace(name)) {
			case RoleAll:
				r = AllRoles()
			case RoleController:
				r.Controller = true
			case RoleIngest:
				r.Ingest = true
			case RoleDetail:
				r.Detail = true
			case RoleTrigger:
				r.Trigger = true
			case RoleAPI:
				r.API = true
			case "":
			default:
				return Roles{}, fmt.Errorf("unknown role %q", name)
			}
		}
	}
	if r == (Roles{}) {
		return Roles{}, fmt.Errorf("no roles selected")
	}
	return r, nil
}

func (r Roles) String() string {
	var names []string
	for _, e := range []struct {
		on   bool
		name string
	}{
		{r.Controller, RoleController},
		{r.Ingest, RoleIngest},
		{r.Detail, RoleDetail},
		{r.Trigger, RoleTrigger},
		{r.API, RoleAPI},
	} {
		if e.on {
			names = append(names, e.name)
		}
	}
	return strings.Join(names, ",")
}
