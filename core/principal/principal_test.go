package principal

import "testing"

func TestCenterScope(t *testing.T) {
	tests := []struct {
		name       string
		p          Principal
		wantCenter string
		wantScoped bool
	}{
		{name: "admin", p: Admin{ID: "a1"}},
		{name: "manager", p: Manager{ID: "m1", CenterID: "c1"}, wantCenter: "c1", wantScoped: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			center, scoped := CenterScope(tt.p)
			if center != tt.wantCenter || scoped != tt.wantScoped {
				t.Errorf("CenterScope() = (%q, %v), want (%q, %v)", center, scoped, tt.wantCenter, tt.wantScoped)
			}
		})
	}
}

func TestRequireManager(t *testing.T) {
	tests := []struct {
		name    string
		p       Principal
		wantErr error
	}{
		{name: "admin", p: Admin{ID: "a1"}, wantErr: ErrUnauthorized},
		{name: "manager without center", p: Manager{ID: "m1"}, wantErr: ErrUnauthorized},
		{name: "nil", p: nil, wantErr: ErrUnauthorized},
		{name: "manager", p: Manager{ID: "m1", CenterID: "c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RequireManager(tt.p); err != tt.wantErr {
				t.Errorf("RequireManager() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
