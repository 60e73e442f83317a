package validate

import (
	"context"
	"errors"
	"testing"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/handler"
	"github.com/openhearth/hearth/internal/types"
)

func configEmpty() config.UpstreamsConfig { return config.UpstreamsConfig{} }

type fixedHandler struct {
	answer string
	err    error
}

func (f *fixedHandler) Name() string { return "fixed" }

func (f *fixedHandler) Handle(context.Context, handler.Input) (handler.Result, error) {
	if f.err != nil {
		return handler.Result{}, f.err
	}
	return handler.Result{Answer: f.answer, Source: "fixed"}, nil
}

func TestConsistent(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		truth  string
		want   bool
	}{
		{
			name:   "numbers within tolerance",
			answer: "It's about 57 degrees and cloudy.",
			truth:  "It's currently cloudy and 58 degrees.",
			want:   true,
		},
		{
			name:   "temperature off by ten",
			answer: "It's 72 degrees and sunny.",
			truth:  "It's currently cloudy and 58 degrees.",
			want:   false,
		},
		{
			name:   "score invented",
			answer: "The Lakers lost 88 to 72.",
			truth:  "The Lakers beat the Celtics 102 to 99.",
			want:   false,
		},
		{
			name:   "facts preserved",
			answer: "The Lakers won against the Celtics, 102 to 99.",
			truth:  "The Lakers beat the Celtics 102 to 99.",
			want:   true,
		},
		{
			name:   "no numbers no facts",
			answer: "all clear skies today",
			truth:  "clear skies expected all day",
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Consistent(tt.answer, tt.truth); got != tt.want {
				t.Errorf("Consistent(%q, %q) = %v, want %v", tt.answer, tt.truth, got, tt.want)
			}
		})
	}
}

func TestCheckHallucination(t *testing.T) {
	reg := handler.NewRegistry(configEmpty(), nil)
	reg.Register(types.CategoryWeather, &fixedHandler{answer: "It's currently cloudy and 58 degrees."})

	v := New(reg)
	in := handler.Input{Intent: types.Intent{Category: types.CategoryWeather}}

	truth, err := v.Check(context.Background(), in, "It's 90 degrees and sunny out there.")
	if !errors.Is(err, types.ErrHallucinationDetected) {
		t.Fatalf("err = %v, want ErrHallucinationDetected", err)
	}
	if truth != "It's currently cloudy and 58 degrees." {
		t.Errorf("truth = %q", truth)
	}

	if _, err := v.Check(context.Background(), in, "Currently about 59 degrees, cloudy."); err != nil {
		t.Fatalf("consistent answer flagged: %v", err)
	}
}

func TestCheckNoGroundTruth(t *testing.T) {
	v := New(handler.NewRegistry(configEmpty(), nil))
	in := handler.Input{Intent: types.Intent{Category: types.CategoryStreaming}}
	_, err := v.Check(context.Background(), in, "anything")
	if !errors.Is(err, types.ErrNotApplicable) {
		t.Fatalf("err = %v, want ErrNotApplicable", err)
	}
}
