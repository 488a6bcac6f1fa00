package domain

import "testing"

func TestParseRoleRejectsUnknown(t *testing.T) {
	if _, ok := ParseRole("admin"); ok {
		t.Fatalf("expected admin to be rejected")
	}
	role, ok := ParseRole(" Owner ")
	if !ok || role != RoleOwner {
		t.Fatalf("expected owner, got %q ok=%t", role, ok)
	}
}

func TestRoleCapabilities(t *testing.T) {
	if RoleCashier.Can(CapCrossBranch) {
		t.Fatalf("cashier must not record for other branches")
	}
	if !RoleBackupCollector.Can(CapRecordTransaction) {
		t.Fatalf("backup collector must be able to record transactions")
	}
	if !RoleOwner.Can(CapCrossBranch) {
		t.Fatalf("owner must be able to record for any branch")
	}
	if Role("").Can(CapViewLoyalty) {
		t.Fatalf("empty role must have no capabilities")
	}
}
