package commands

import (
	"testing"
)

func TestDiffFields(t *testing.T) {
	tests := []struct {
		name     string
		recorded map[string]string
		live     map[string]string
		want     map[string]change
	}{
		{
			name:     "identical",
			recorded: map[string]string{"power": "on", "regulator": "dynamic"},
			live:     map[string]string{"power": "on", "regulator": "dynamic"},
			want:     map[string]change{},
		},
		{
			name:     "value changed",
			recorded: map[string]string{"power": "on"},
			live:     map[string]string{"power": "off"},
			want: map[string]change{
				"power": {Recorded: "on", Live: "off"},
			},
		},
		{
			name:     "field disappeared",
			recorded: map[string]string{"power": "on", "auto_power": "restore"},
			live:     map[string]string{"power": "on"},
			want: map[string]change{
				"auto_power": {Recorded: "restore", Live: ""},
			},
		},
		{
			name:     "field appeared",
			recorded: map[string]string{"power": "on"},
			live:     map[string]string{"power": "on", "regulator": "max"},
			want: map[string]change{
				"regulator": {Live: "max"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diffFields(tt.recorded, tt.live)
			if len(got) != len(tt.want) {
				t.Fatalf("diffFields returned %d changes, want %d: %v", len(got), len(tt.want), got)
			}
			for k, want := range tt.want {
				if got[k] != want {
					t.Errorf("change[%q] = %+v, want %+v", k, got[k], want)
				}
			}
		})
	}
}
