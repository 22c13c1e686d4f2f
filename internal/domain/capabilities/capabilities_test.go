package capabilities

import (
	"testing"
)

func TestRoleMask_GenerateAuthKeys(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		cap     Capability
		want    bool
	}{
		{name: "owner может создавать ключи для всех", role: RoleOwner, cap: CapGenerateAuthKeys, want: true},
		{name: "admin может создавать ключи для всех", role: RoleAdmin, cap: CapGenerateAuthKeys, want: true},
		{name: "network_admin может создавать ключи для всех", role: RoleNetworkAdmin, cap: CapGenerateAuthKeys, want: true},
		{name: "it_admin может создавать ключи для всех", role: RoleITAdmin, cap: CapGenerateAuthKeys, want: true},
		{name: "auditor НЕ может создавать ключи для всех", role: RoleAuditor, cap: CapGenerateAuthKeys, want: false},
		{name: "auditor может создавать ключи для себя", role: RoleAuditor, cap: CapGenerateOwnAuthKeys, want: true},
		{name: "member не может создавать ключи для всех", role: RoleMember, cap: CapGenerateAuthKeys, want: false},
		{name: "member не может создавать ключи для себя", role: RoleMember, cap: CapGenerateOwnAuthKeys, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Has(RoleMask(tt.role), tt.cap)
			if got != tt.want {
				t.Errorf("Has(RoleMask(%q), %b) = %v, хотели %v", tt.role, tt.cap, got, tt.want)
			}
		})
	}
}

func TestRoleMask_Member(t *testing.T) {
	// member = 0: ни одного права.
	if mask := RoleMask(RoleMember); mask != 0 {
		t.Fatalf("RoleMask(member) = %d, хотели 0", mask)
	}

	caps := []Capability{
		CapGenerateAuthKeys,
		CapGenerateOwnAuthKeys,
		CapReadMachines,
		CapWriteMachines,
		CapReadUsers,
		CapWriteUsers,
		CapReadPolicy,
		CapWritePolicy,
		CapReadNetwork,
		CapWriteNetwork,
		CapUIAccess,
	}
	for _, c := range caps {
		if Has(RoleMask(RoleMember), c) {
			t.Errorf("member не должен иметь право %b", c)
		}
	}
}

func TestRoleMask_OwnerHasEverything(t *testing.T) {
	caps := []Capability{
		CapGenerateAuthKeys,
		CapGenerateOwnAuthKeys,
		CapReadMachines,
		CapWriteMachines,
		CapReadUsers,
		CapWriteUsers,
		CapReadPolicy,
		CapWritePolicy,
		CapReadNetwork,
		CapWriteNetwork,
		CapUIAccess,
	}
	for _, c := range caps {
		if !Has(OwnerMask(), c) {
			t.Errorf("owner должен иметь право %b", c)
		}
	}
}

func TestRoleMask_UnknownRole(t *testing.T) {
	// Неизвестная роль эквивалентна member.
	if mask := RoleMask(Role("superuser")); mask != 0 {
		t.Errorf("RoleMask для неизвестной роли = %d, хотели 0", mask)
	}
}

func TestHas_ArbitraryMask(t *testing.T) {
	// Маска может быть произвольной, не обязательно ролевой.
	mask := uint64(CapReadMachines | CapUIAccess)

	if !Has(mask, CapReadMachines) {
		t.Error("маска должна содержать CapReadMachines")
	}
	if !Has(mask, CapUIAccess) {
		t.Error("маска должна содержать CapUIAccess")
	}
	if Has(mask, CapWriteMachines) {
		t.Error("маска не должна содержать CapWriteMachines")
	}
}

func TestValidRole(t *testing.T) {
	tests := []struct {
		role string
		want bool
	}{
		{"owner", true},
		{"admin", true},
		{"network_admin", true},
		{"it_admin", true},
		{"auditor", true},
		{"member", true},
		{"", false},
		{"superadmin", false},
		{"Owner", false},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			got := ValidRole(tt.role)
			if got != tt.want {
				t.Errorf("ValidRole(%q) = %v, хотели %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestRoles_Closed(t *testing.T) {
	roles := Roles()
	if len(roles) != 6 {
		t.Fatalf("Roles() вернул %d ролей, хотели 6", len(roles))
	}
	for _, r := range roles {
		if !ValidRole(string(r)) {
			t.Errorf("роль %q из Roles() не проходит ValidRole", r)
		}
	}
}

func TestCapabilities_DistinctBits(t *testing.T) {
	caps := []Capability{
		CapGenerateAuthKeys,
		CapGenerateOwnAuthKeys,
		CapReadMachines,
		CapWriteMachines,
		CapReadUsers,
		CapWriteUsers,
		CapReadPolicy,
		CapWritePolicy,
		CapReadNetwork,
		CapWriteNetwork,
		CapUIAccess,
	}

	seen := make(map[Capability]bool)
	for _, c := range caps {
		// Каждый бит — степень двойки.
		if c == 0 || c&(c-1) != 0 {
			t.Errorf("capability %b не является степенью двойки", c)
		}
		if seen[c] {
			t.Errorf("capability %b повторяется", c)
		}
		seen[c] = true
	}
}
