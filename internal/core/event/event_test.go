package event

import (
	"testing"

	"github.com/example/stagehand/internal/core/policy"
)

func TestVetoes(t *testing.T) {
	errs := []policy.Result{policy.NewWarning("w", "", "careful"), policy.Errorf("e", "broken")}
	warns := []policy.Result{policy.NewWarning("w", "", "careful")}

	tests := []struct {
		name    string
		kind    Kind
		results []policy.Result
		want    bool
	}{
		{name: "pre event with error vetoes", kind: PreApply, results: errs, want: true},
		{name: "pre event with warnings only", kind: PreApply, results: warns, want: false},
		{name: "post event never vetoes", kind: PostApply, results: errs, want: false},
		{name: "status check reports errors", kind: StatusCheck, results: errs, want: true},
		{name: "no results", kind: PreCreate, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Vetoes(tt.kind, tt.results); got != tt.want {
				t.Errorf("Vetoes(%s) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}
