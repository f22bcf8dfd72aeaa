package core_test

import (
	"errors"
	"testing"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

func TestRoleCapabilities(t *testing.T) {
	cases := []struct {
		role core.Role
		cap  core.Capability
		want bool
	}{
		{core.RoleOperator, core.CapOperate, true},
		{core.RoleOperator, core.CapManage, false},
		{core.RoleOperator, core.CapExport, false},
		{core.RoleSupervisor, core.CapOperate, true},
		{core.RoleSupervisor, core.CapManage, true},
		{core.RoleSupervisor, core.CapExport, true},
		{core.RoleAdmin, core.CapManage, true},
		{core.Role("INTERN"), core.CapOperate, false},
		{core.Role(""), core.CapExport, false},
	}
	for _, tc := range cases {
		if got := core.RoleAllows(tc.role, tc.cap); got != tc.want {
			t.Errorf("RoleAllows(%q, %q) = %v, want %v", tc.role, tc.cap, got, tc.want)
		}
	}
}

func TestRequireCapability(t *testing.T) {
	if err := core.RequireCapability(core.RoleSupervisor, core.CapManage); err != nil {
		t.Errorf("supervisor should manage: %v", err)
	}

	err := core.RequireCapability(core.RoleOperator, core.CapManage)
	var denied *core.PermissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected PermissionDeniedError, got %v", err)
	}
	if denied.Role != core.RoleOperator || denied.Capability != core.CapManage {
		t.Errorf("error should carry role and capability, got %+v", denied)
	}
}
