package tag

import "testing"

func TestSentinels(t *testing.T) {
	if UnallocTag.IsReal() {
		t.Fatalf("UnallocTag.IsReal() == true")
	}
	if GlobalTag.IsReal() {
		t.Fatalf("GlobalTag.IsReal() == true")
	}
	if UnallocTag.Equal(GlobalTag) {
		t.Fatalf("UnallocTag.Equal(GlobalTag) == true")
	}
}

func TestForTenant(t *testing.T) {
	tg := ForTenant(3, 7)
	if !tg.IsReal() {
		t.Fatalf("ForTenant(3,7).IsReal() == false")
	}
	aid, wid := tg.Tenant()
	if aid != 3 || wid != 7 {
		t.Fatalf("ForTenant(3,7).Tenant() == (%d,%d), want (3,7)", aid, wid)
	}
	if !tg.Equal(ForTenant(3, 7)) {
		t.Fatalf("ForTenant(3,7) != ForTenant(3,7)")
	}
	if tg.Equal(ForTenant(3, 8)) {
		t.Fatalf("ForTenant(3,7).Equal(ForTenant(3,8)) == true")
	}
}

func TestTenantPanicsOnSentinel(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("UnallocTag.Tenant() did not panic")
		}
	}()
	UnallocTag.Tenant()
}
