package discussion

import (
	"reflect"
	"testing"

	"litcritic/pkg/review"
)

func TestParseNoTagsKeepsDialogueOpen(t *testing.T) {
	res := Parse("I still think the lamp detail matters. What bothers you about it?")
	if res.Status != review.OutcomeContinue {
		t.Errorf("status = %s, want continue", res.Status)
	}
	if res.Display != "I still think the lamp detail matters. What bothers you about it?" {
		t.Errorf("display = %q", res.Display)
	}
	if res.Revision != nil || res.Preference != "" || res.Ambiguity != "" {
		t.Errorf("unexpected extras: %+v", res)
	}
}

func TestParseStatusTags(t *testing.T) {
	cases := []struct {
		tag  string
		want string
	}{
		{"[CONTINUE]", review.OutcomeContinue},
		{"[ACCEPTED]", review.StatusAccepted},
		{"[REJECTED]", review.StatusRejected},
		{"[CONCEDED]", review.OutcomeConceded},
		{"[REVISED]", review.StatusRevised},
		{"[WITHDRAWN]", review.StatusWithdrawn},
		{"[ESCALATED]", review.StatusEscalated},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			res := Parse("Understood.\n\n" + tc.tag)
			if res.Status != tc.want {
				t.Errorf("status = %s, want %s", res.Status, tc.want)
			}
			if res.Display != "Understood." {
				t.Errorf("display = %q, want tag stripped", res.Display)
			}
		})
	}
}

func TestParseRevisionBlock(t *testing.T) {
	res := Parse("Fair point. [REVISED]\n[REVISION]\n{\"severity\":\"minor\"}\n[/REVISION]")
	if res.Status != review.StatusRevised {
		t.Errorf("status = %s, want revised", res.Status)
	}
	if want := map[string]any{"severity": "minor"}; !reflect.DeepEqual(res.Revision, want) {
		t.Errorf("revision = %v, want %v", res.Revision, want)
	}
	if res.Display != "Fair point." {
		t.Errorf("display = %q", res.Display)
	}
}

func TestParseMalformedRevisionDropped(t *testing.T) {
	res := Parse("Adjusting. [REVISED]\n[REVISION]{severity: minor}[/REVISION]")
	if res.Status != review.StatusRevised {
		t.Errorf("status = %s, want revised", res.Status)
	}
	if res.Revision != nil {
		t.Errorf("revision = %v, want nil for malformed JSON", res.Revision)
	}
	if res.Display != "Adjusting." {
		t.Errorf("display = %q, want block stripped anyway", res.Display)
	}
}

func TestParsePreference(t *testing.T) {
	res := Parse("Noted, I'll stop flagging those. [CONCEDED]\n[PREFERENCE: sentence fragments are fine in action beats]")
	if res.Status != review.OutcomeConceded {
		t.Errorf("status = %s, want conceded", res.Status)
	}
	if res.Preference != "sentence fragments are fine in action beats" {
		t.Errorf("preference = %q", res.Preference)
	}
	if res.Display != "Noted, I'll stop flagging those." {
		t.Errorf("display = %q", res.Display)
	}
}

func TestParseAmbiguity(t *testing.T) {
	res := Parse("So the double lamp is deliberate. [ACCEPTED]\n[AMBIGUITY:INTENTIONAL]")
	if res.Ambiguity != AmbiguityIntentional {
		t.Errorf("ambiguity = %q, want intentional", res.Ambiguity)
	}

	res = Parse("Then it slipped through. [CONTINUE]\n[AMBIGUITY:ACCIDENTAL]")
	if res.Ambiguity != AmbiguityAccidental {
		t.Errorf("ambiguity = %q, want accidental", res.Ambiguity)
	}
	if res.Display != "Then it slipped through." {
		t.Errorf("display = %q", res.Display)
	}
}

func TestParseAllTagsTogether(t *testing.T) {
	raw := "You're right about the pacing.\n" +
		"[REVISION]{\"severity\": \"minor\", \"impact\": \"softer than first read\"}[/REVISION]\n" +
		"[PREFERENCE: slow openings are a deliberate choice]\n" +
		"[AMBIGUITY:INTENTIONAL]\n" +
		"[REVISED]"
	res := Parse(raw)
	if res.Status != review.StatusRevised {
		t.Errorf("status = %s, want revised", res.Status)
	}
	if res.Revision["severity"] != "minor" || res.Revision["impact"] != "softer than first read" {
		t.Errorf("revision = %v", res.Revision)
	}
	if res.Preference != "slow openings are a deliberate choice" {
		t.Errorf("preference = %q", res.Preference)
	}
	if res.Ambiguity != AmbiguityIntentional {
		t.Errorf("ambiguity = %q", res.Ambiguity)
	}
	if res.Display != "You're right about the pacing." {
		t.Errorf("display = %q", res.Display)
	}
}

func TestParseLastStatusTagWins(t *testing.T) {
	res := Parse("Let me think. [CONTINUE]\nActually, no, you've convinced me. [CONCEDED]")
	if res.Status != review.OutcomeConceded {
		t.Errorf("status = %s, want conceded (closest to the end)", res.Status)
	}
}
