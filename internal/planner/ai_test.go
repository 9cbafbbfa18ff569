package planner

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/mockshelf/mockshelf/internal/apperr"
	"github.com/mockshelf/mockshelf/internal/flow"
	"github.com/mockshelf/mockshelf/internal/logging"
)

type fakeCompleter struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, _, user string) (string, error) {
	f.prompt = user
	return f.reply, f.err
}

var testFrames = []flow.Frame{{ID: "1:1", Name: "Splash"}, {ID: "1:2", Name: "Login"}, {ID: "1:3", Name: "Home"}}

func planIDs(p flow.Plan) []string {
	return p.IDs()
}

func TestAIPlanner_UsesModelOrder(t *testing.T) {
	llm := &fakeCompleter{reply: "```json\n{\"frames\":[{\"id\":\"1:3\",\"duration\":3,\"transition\":\"dissolve\"},{\"id\":\"1:1\"}]}\n```"}
	p := NewAIPlanner(llm, logging.Discard())

	plan, err := p.Plan(context.Background(), flow.Request{
		Frames:      testFrames,
		Settings:    flow.Settings{Duration: 2, Transition: flow.Slide},
		Description: "home first",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []flow.PlanFrame{
		{ID: "1:3", Name: "Home", Duration: 3, Transition: flow.Fade},
		{ID: "1:1", Name: "Splash", Duration: 2, Transition: flow.Slide},
	}
	if !reflect.DeepEqual(plan.Frames, want) || plan.TotalDuration != 5 {
		t.Errorf("plan = %+v", plan)
	}
	if !strings.Contains(llm.prompt, "1:2: Login") || !strings.Contains(llm.prompt, "home first") {
		t.Errorf("prompt = %q", llm.prompt)
	}
}

func TestAIPlanner_DropsUnknownIDs(t *testing.T) {
	llm := &fakeCompleter{reply: `{"frames":[{"id":"9:9"},{"id":"1:2"},{"id":"nope"}]}`}
	plan, _ := NewAIPlanner(llm, logging.Discard()).Plan(context.Background(), flow.Request{Frames: testFrames})
	if got := planIDs(plan); !reflect.DeepEqual(got, []string{"1:2"}) {
		t.Errorf("ids = %v", got)
	}
}

func TestAIPlanner_FallsBackToAllFrames(t *testing.T) {
	tests := []struct {
		name string
		llm  *fakeCompleter
	}{
		{"only unknown ids", &fakeCompleter{reply: `{"frames":[{"id":"x"}]}`}},
		{"empty list", &fakeCompleter{reply: `{"frames":[]}`}},
		{"garbage", &fakeCompleter{reply: "I cannot help with that"}},
		{"model error", &fakeCompleter{err: errors.New("llm complete: exhausted after 3 attempts")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewAIPlanner(tt.llm, logging.Discard()).Plan(context.Background(), flow.Request{
				Frames:   testFrames,
				Settings: flow.Settings{Duration: 1.5, Transition: flow.Fade},
			})
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(planIDs(plan), []string{"1:1", "1:2", "1:3"}) || plan.TotalDuration != 4.5 {
				t.Errorf("plan = %+v", plan)
			}
		})
	}
}

func TestAIPlanner_MissingKey(t *testing.T) {
	p := NewAIPlanner(NewClient(Config{}), logging.Discard())
	_, err := p.Plan(context.Background(), flow.Request{Frames: testFrames})
	if !errors.Is(err, apperr.ErrCredentialMissing) {
		t.Errorf("err = %v, want credential missing", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain", `{"frames":[{"id":"a"}]}`, false},
		{"fenced", "```json\n{\"frames\":[{\"id\":\"a\"}]}\n```", false},
		{"prose", `Sure! {"frames":[{"id":"a"}]} Hope that helps.`, false},
		{"empty", "  ", true},
		{"no json", "nothing here", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r aiReply
			err := DecodeJSON(tt.in, &r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJSON() err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (len(r.Frames) != 1 || r.Frames[0].ID != "a") {
				t.Errorf("decoded = %+v", r)
			}
		})
	}
}
