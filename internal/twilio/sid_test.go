package twilio

import "testing"

func TestParseMessageSID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw     string
		kind    SIDKind
		wantErr bool
	}{
		{raw: "SM1234567890abcdef", kind: SIDKindSMS},
		{raw: "MM1234567890abcdef", kind: SIDKindMMS},
		{raw: " SMabc ", kind: SIDKindSMS},
		{raw: "SM", wantErr: true},
		{raw: "MM", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "AC1234567890abcdef", wantErr: true},
		{raw: "sm1234567890abcdef", wantErr: true},
	}
	for _, tc := range cases {
		sid, err := ParseMessageSID(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseMessageSID(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseMessageSID(%q): %v", tc.raw, err)
		}
		if sid.Kind != tc.kind {
			t.Fatalf("ParseMessageSID(%q).Kind=%q, want %q", tc.raw, sid.Kind, tc.kind)
		}
	}
}
