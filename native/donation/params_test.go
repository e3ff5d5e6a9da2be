package donation

import "testing"

func TestParamsPatchOverlaysSetFields(t *testing.T) {
	base := DefaultParams()
	if got := (ParamsPatch{}).Apply(base); got != base {
		t.Fatalf("empty patch changed params: %+v", got)
	}
	zero, period := uint64(0), uint64(60)
	got := ParamsPatch{FeePercent: &zero, RewardPeriod: &period}.Apply(base)
	want := base
	want.FeePercent = 0
	want.RewardPeriod = 60
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
